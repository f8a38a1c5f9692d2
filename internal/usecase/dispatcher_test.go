package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/brokertest"
	"github.com/docpipe/docpipe/internal/domain"
)

type stubSlicer struct {
	parts domain.SectionMap
	err   error
}

func (s stubSlicer) Slice(_ domain.Context, _ string, _ []byte) (domain.SectionMap, error) {
	return s.parts, s.err
}

type recordingAudit struct {
	events []string
}

func (r *recordingAudit) Record(_ domain.Context, taskID, event, service string) error {
	r.events = append(r.events, taskID+"/"+event+"/"+service)
	return nil
}

func newTestParts() domain.SectionMap {
	parts := domain.NewEmptySectionMap()
	parts[domain.SectionKey(4)] = "seller clause"
	parts[domain.SectionKey(16)] = "TABLE: A | 1 | шт | 10 | 20 | RU"
	return parts
}

func TestDispatcherPublishesInitBeforeWorkItems(t *testing.T) {
	fb := brokertest.New()
	audit := &recordingAudit{}
	dir := t.TempDir()
	d := DispatcherService{
		Broker:            fb,
		Slicer:            stubSlicer{parts: newTestParts()},
		Audit:             audit,
		DataDir:           dir,
		LegalTopic:        "ai_legal_parts",
		EconomTopic:       "ai_econom_parts",
		ExtractorTopic:    "contract_extractor_parts",
		AggTasksTopic:     "aggregation_tasks",
		EconomSections:    []string{"part_16"},
		ExtractorSections: []string{"part_4", "part_16"},
	}

	content := base64.StdEncoding.EncodeToString([]byte("fake docx bytes"))
	err := d.HandleUpload(context.Background(), domain.UploadMessage{
		TaskID: "task-1", Filename: "doc.docx", Content: content, ReplyTo: "reply.task-1",
	})
	require.NoError(t, err)

	published := fb.Published
	require.Len(t, published, 4)
	assert.Equal(t, "aggregation_tasks", published[0].Topic)
	assert.Equal(t, "ai_legal_parts", published[1].Topic)
	assert.Equal(t, "ai_econom_parts", published[2].Topic)
	assert.Equal(t, "contract_extractor_parts", published[3].Topic)

	for _, p := range published {
		assert.Equal(t, "task-1", p.Msg.CorrelationID)
		assert.Equal(t, "reply.task-1", p.Msg.ReplyTo)
	}

	var init domain.AggregationInitMessage
	require.NoError(t, json.Unmarshal(published[0].Msg.Body, &init))
	assert.ElementsMatch(t, domain.FixedServiceTags, init.ExpectedServices)

	var legal domain.WorkItemMessage
	require.NoError(t, json.Unmarshal(published[1].Msg.Body, &legal))
	assert.Equal(t, "seller clause", legal.Parts[domain.SectionKey(4)])

	var econom struct {
		Parts map[string]string `json:"parts"`
	}
	require.NoError(t, json.Unmarshal(published[2].Msg.Body, &econom))
	assert.Len(t, econom.Parts, 1)
	assert.Contains(t, econom.Parts, domain.SectionKey(16))

	var extractor struct {
		Sections map[string]string `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(published[3].Msg.Body, &extractor))
	assert.Len(t, extractor.Sections, 2)

	sectionsPath := filepath.Join(dir, "task-1", "sections.json")
	_, statErr := os.Stat(sectionsPath)
	assert.NoError(t, statErr)

	assert.Contains(t, audit.events, "task-1/sliced/")
	assert.Contains(t, audit.events, "task-1/dispatched/ai_legal")
}

func TestDispatcherRejectsInvalidBase64(t *testing.T) {
	fb := brokertest.New()
	d := DispatcherService{Broker: fb, Slicer: stubSlicer{parts: newTestParts()}}

	err := d.HandleUpload(context.Background(), domain.UploadMessage{TaskID: "task-2", Content: "not-base64!!"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, fb.Published)
}

func TestDispatcherPropagatesSliceError(t *testing.T) {
	fb := brokertest.New()
	d := DispatcherService{Broker: fb, Slicer: stubSlicer{err: assertErrDispatch{}}}

	content := base64.StdEncoding.EncodeToString([]byte("x"))
	err := d.HandleUpload(context.Background(), domain.UploadMessage{TaskID: "task-3", Content: content})
	require.Error(t, err)
	assert.Empty(t, fb.Published)
}

type assertErrDispatch struct{}

func (assertErrDispatch) Error() string { return "slice failed" }
