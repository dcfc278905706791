package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// recordEnvelope is the request body for create and update calls.
type recordEnvelope struct {
	Fields json.RawMessage `json:"fields"`
}

// CreateRecord creates a new record of the given entity type on the service
// and returns the server's view, including the assigned server ID.
func (c *Client) CreateRecord(ctx context.Context, entityType string, fields json.RawMessage) (*RemoteRecord, error) {
	body, err := json.Marshal(recordEnvelope{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("api: encoding create request: %w", err)
	}

	path := "/" + url.PathEscape(entityType)

	c.logger.Debug("creating record", slog.String("entity_type", entityType))

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeRemoteRecord(resp)
}

// UpdateRecord replaces the domain fields of an existing record and returns
// the server's view after the write.
func (c *Client) UpdateRecord(ctx context.Context, entityType, serverID string, fields json.RawMessage) (*RemoteRecord, error) {
	body, err := json.Marshal(recordEnvelope{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("api: encoding update request: %w", err)
	}

	path := "/" + url.PathEscape(entityType) + "/" + url.PathEscape(serverID)

	c.logger.Debug("updating record",
		slog.String("entity_type", entityType),
		slog.String("server_id", serverID),
	)

	resp, err := c.Do(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeRemoteRecord(resp)
}

// DeleteRecord removes a record from the service. HTTP 404 is returned to
// the caller as ErrNotFound; the push pipeline treats it as already deleted.
func (c *Client) DeleteRecord(ctx context.Context, entityType, serverID string) error {
	path := "/" + url.PathEscape(entityType) + "/" + url.PathEscape(serverID)

	c.logger.Debug("deleting record",
		slog.String("entity_type", entityType),
		slog.String("server_id", serverID),
	)

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// Changes fetches one page of changes for an entity collection strictly
// after the given cursor. An empty cursor requests enumeration from the
// beginning. HTTP 410 (Gone) means the cursor has expired — returns ErrGone
// so the caller can reset and re-enumerate.
func (c *Client) Changes(ctx context.Context, entityType, cursor string) (*ChangePage, error) {
	path := "/" + url.PathEscape(entityType) + "/changes"
	if cursor != "" {
		path += "?since=" + url.QueryEscape(cursor)
	}

	c.logger.Debug("fetching changes",
		slog.String("entity_type", entityType),
		slog.Bool("initial", cursor == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page ChangePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding change page: %v", ErrMalformed, err)
	}

	// The contract requires the checkpoint on every page, including empty
	// ones. A page without it cannot be applied safely.
	if page.NextCheckpoint == "" {
		return nil, fmt.Errorf("%w: change page missing next_checkpoint", ErrMalformed)
	}

	c.logger.Debug("fetched change page",
		slog.String("entity_type", entityType),
		slog.Int("records", len(page.Records)),
		slog.Bool("has_more", page.HasMore),
	)

	return &page, nil
}

// decodeRemoteRecord decodes a single record response body, validating the
// parts the sync engine relies on.
func decodeRemoteRecord(resp *http.Response) (*RemoteRecord, error) {
	var rec RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decoding record: %v", ErrMalformed, err)
	}

	if rec.ServerID == "" {
		return nil, fmt.Errorf("%w: record missing server_id", ErrMalformed)
	}

	return &rec, nil
}
