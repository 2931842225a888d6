package audit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/payments/internal/models"
)

// OpenSearchMirror indexes audit entries for full-text dispute search.
type OpenSearchMirror struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchMirror creates a mirror client. Call Initialize before use.
func NewOpenSearchMirror(cfg config.OpenSearchConfig) (*OpenSearchMirror, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	index := cfg.Index
	if index == "" {
		index = "paywatch-audit"
	}
	return &OpenSearchMirror{client: client, index: index}, nil
}

// Initialize verifies the connection and creates the index when missing.
func (m *OpenSearchMirror) Initialize(ctx context.Context) error {
	info, err := m.client.Info(m.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	exists, err := m.client.Indices.Exists([]string{m.index}, m.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	defer exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"memo":       map[string]string{"type": "keyword"},
				"tx_hash":    map[string]string{"type": "keyword"},
				"action":     map[string]string{"type": "keyword"},
				"watcher":    map[string]string{"type": "keyword"},
				"detail":     map[string]string{"type": "text"},
				"created_at": map[string]string{"type": "date"},
				"validation": map[string]any{"type": "object"},
				"fraud":      map[string]any{"type": "object"},
			},
		},
	})
	if err != nil {
		return err
	}

	res, err := m.client.Indices.Create(m.index,
		m.client.Indices.Create.WithContext(ctx),
		m.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create audit index: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// Index stores entry under its database id.
func (m *OpenSearchMirror) Index(ctx context.Context, entry *models.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	res, err := m.client.Index(m.index, bytes.NewReader(body),
		m.client.Index.WithContext(ctx),
		m.client.Index.WithDocumentID(strconv.FormatInt(entry.ID, 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to index audit entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("opensearch error: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// Search runs a free-text query over mirrored entries, newest first. The
// query matches memos, transaction hashes and free-form details, which is
// what operators have in hand when a payer disputes a charge.
func (m *OpenSearchMirror) Search(ctx context.Context, query string, size int) ([]*models.AuditEntry, error) {
	searchBody := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"memo", "tx_hash", "detail", "watcher", "action"},
			},
		},
		"size": size,
		"sort": []map[string]any{
			{"created_at": map[string]string{"order": "desc"}},
		},
	}
	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	res, err := m.client.Search(
		m.client.Search.WithContext(ctx),
		m.client.Search.WithIndex(m.index),
		m.client.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("opensearch error: %s - %s", res.Status(), string(body))
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	entries := make([]*models.AuditEntry, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var e models.AuditEntry
		if err := json.Unmarshal(hit.Source, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
