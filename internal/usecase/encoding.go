package usecase

import "encoding/base64"

func decodeContent(content string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(content)
}
