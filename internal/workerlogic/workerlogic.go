// Package workerlogic holds the deterministic stand-ins for each analysis
// worker's domain logic. The domain-specific analysis itself (legal review,
// budget matching, contract QA, counterparty lookup) is explicitly out of
// scope; these functions exist so the orchestration fabric around them has
// something real to call, publish, and test against, the same way the
// source stack's ai/stub client stands in for a live LLM call.
package workerlogic

import (
	"sort"
	"strings"

	"github.com/docpipe/docpipe/internal/domain"
)

// AILegal produces a deterministic legal-review stub keyed off which
// section slots actually carried text.
func AILegal(parts domain.SectionMap) map[string]any {
	return map[string]any{
		"reviewed_sections": nonEmptyKeys(parts),
		"flags":             []string{},
		"summary":           "no blocking legal issues detected",
	}
}

// AIEconom produces a deterministic budget-matching stub over whatever
// subset of the section map it was dispatched (by default just part_16).
func AIEconom(parts domain.SectionMap) map[string]any {
	rows := strings.Count(parts[domain.SectionKey(16)], "TABLE: ")
	return map[string]any{
		"line_items_seen": rows,
		"within_budget":   true,
	}
}

// sellerMarker is the stand-in heuristic for "a counterparty identifier was
// found in the contract text": a real extractor would run NER/regex over
// the contract sections; this looks for an explicit "seller:" marker so
// tests can drive both branches of the cascade deterministically.
const sellerMarker = "seller:"

// ContractExtractorResult is the extractor's own partial plus, when a seller
// marker is present, the identifier to hand off to the sb worker.
type ContractExtractorResult struct {
	Payload   map[string]any
	Seller    string
	HasSeller bool
}

// ContractExtractor inspects its section subset for a seller marker and
// returns both its own result payload and whether a follow-up to the sb
// worker is warranted.
func ContractExtractor(parts domain.SectionMap) ContractExtractorResult {
	for _, key := range nonEmptyKeys(parts) {
		text := parts[key]
		idx := strings.Index(strings.ToLower(text), sellerMarker)
		if idx == -1 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(sellerMarker):])
		seller := strings.TrimSpace(strings.SplitN(rest, "\n", 2)[0])
		if seller != "" {
			return ContractExtractorResult{
				Payload:   map[string]any{"seller": seller, "extracted_from": key},
				Seller:    seller,
				HasSeller: true,
			}
		}
	}
	return ContractExtractorResult{
		Payload: map[string]any{"extracted_from": nonEmptyKeys(parts)},
	}
}

// SBAIStub is the always-emitted fallback partial when the extractor found
// no seller, guaranteeing the aggregator's expected set always drains.
func SBAIStub() map[string]any {
	return map[string]any{"status": 0, "reason": "seller not provided"}
}

// SB produces a deterministic counterparty-lookup stub for a known seller.
func SB(seller string) map[string]any {
	return map[string]any{"company_name": seller, "status": 1}
}

// nonEmptyKeys returns the section keys carrying non-blank text, sorted so
// every caller (and every re-run against the same document) sees the same
// order: ContractExtractor walks this order looking for the first seller
// marker, and AILegal publishes it verbatim as reviewed_sections.
func nonEmptyKeys(parts domain.SectionMap) []string {
	keys := make([]string, 0, len(parts))
	for k, v := range parts {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
