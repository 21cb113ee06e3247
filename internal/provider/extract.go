package provider

import (
	"encoding/json"
	"mime"
	"net/url"
	"path"

	"github.com/pelicanone/backend/internal/models"
)

// NormalizeResult maps a terminal provider response onto the canonical
// result shape: typed, ordered content items plus the raw payload for
// debugging.
func NormalizeResult(jobType string, raw json.RawMessage) (*models.JobResult, error) {
	var body struct {
		Text  *string           `json:"text"`
		Files []json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fatal("malformed provider result: %v", err)
	}

	result := &models.JobResult{Type: jobType, Items: []models.ResultItem{}, Raw: raw}
	if body.Text != nil && *body.Text != "" {
		result.Items = append(result.Items, models.ResultItem{Kind: models.ResultItemText, Text: *body.Text})
	}
	for _, rawFile := range body.Files {
		item, ok := fileItem(rawFile)
		if ok {
			result.Items = append(result.Items, item)
		}
	}
	return result, nil
}

// fileItem decodes one entry of the provider's files list, which may be a
// bare URL string or an object with url/filename/content_type.
func fileItem(raw json.RawMessage) (models.ResultItem, bool) {
	item := models.ResultItem{Kind: models.ResultItemFile}

	var fileURL string
	if err := json.Unmarshal(raw, &fileURL); err == nil {
		item.URL = fileURL
	} else {
		var obj struct {
			URL         string `json:"url"`
			Filename    string `json:"filename"`
			ContentType string `json:"content_type"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.URL == "" {
			return models.ResultItem{}, false
		}
		item.URL = obj.URL
		item.Filename = obj.Filename
		item.ContentType = obj.ContentType
	}
	if item.URL == "" {
		return models.ResultItem{}, false
	}
	if item.Filename == "" {
		item.Filename = filenameFromURL(item.URL)
	}
	if item.ContentType == "" {
		item.ContentType = mime.TypeByExtension(path.Ext(item.Filename))
	}
	return item, true
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
