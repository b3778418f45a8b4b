package cache

import (
	"encoding/json"

	"github.com/driftsync/driftsync/internal/models"
)

// AbsorbMutation folds the server's response to a successful mutation into
// the cache. Creates and updates store the server document under its
// server-assigned id; when the mutation carried a temporary local id the
// optimistic entry is dropped so the temp id stops resolving. Deletes drop
// the cached document.
func (c *Cache) AbsorbMutation(m *models.QueuedMutation, responseBody []byte) error {
	fields, err := m.Fields()
	if err != nil {
		fields = map[string]interface{}{}
	}
	localID, _ := fields["id"].(string)

	if m.Kind == models.OperationDelete {
		if localID == "" {
			return nil
		}
		return c.Remove(m.Resource, localID)
	}

	data := responseBody
	serverID := models.DocumentID(responseBody)

	if serverID == "" {
		// No usable server document; fall back to the optimistic view.
		serverID = localID
		if len(data) == 0 {
			data = m.Payload
		}
	}
	if serverID == "" {
		// Nothing to key the document on; leave the cache alone.
		return nil
	}

	if err := c.Put(m.Resource, serverID, json.RawMessage(data)); err != nil {
		return err
	}

	if localID != "" && localID != serverID {
		return c.Remove(m.Resource, localID)
	}
	return nil
}
