package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/peerloom/trackerd/internal/trackerdom"
)

// errInvalidJSON mirrors the original's "Request is not JSON" response: the
// body didn't parse as JSON at all, as distinct from a schema violation.
var errInvalidJSON = errors.New("Request is not JSON")

// decodeStrict rejects unknown properties and trailing data, the hand-rolled
// equivalent of additionalProperties:false. A body that isn't JSON at all is
// reported distinctly from one that is JSON but violates the schema.
func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if err == io.EOF || errors.As(err, &syntaxErr) {
			return errInvalidJSON
		}
		return err
	}
	if dec.More() {
		return errInvalidJSON
	}
	return nil
}

type chunkBody struct {
	ID   *int64  `json:"id"`
	Name *string `json:"name"`
	Hash *string `json:"hash"`
}

func (c chunkBody) validate() error {
	if c.ID == nil || c.Name == nil || c.Hash == nil {
		return errors.New("chunk is missing a required field (id, name, hash)")
	}
	return nil
}

type addFileBody struct {
	Name      *string     `json:"name"`
	FullHash  *string     `json:"full_hash"`
	Chunks    []chunkBody `json:"chunks"`
	GUID      *string     `json:"guid"`
	SeqNumber *int64      `json:"seq_number"`
}

// toRequest validates the body against the add_file schema and converts it
// to a domain request. requireGUID is set by callers validating the
// tracker_sync variant, where guid must be non-null.
func (b *addFileBody) toRequest(requireGUID bool) (*trackerdom.AddFileRequest, error) {
	if b.Name == nil || *b.Name == "" {
		return nil, errors.New("'name' is a required property")
	}
	if b.FullHash == nil || *b.FullHash == "" {
		return nil, errors.New("'full_hash' is a required property")
	}
	if b.SeqNumber == nil {
		return nil, errors.New("'seq_number' is a required property")
	}
	if requireGUID && (b.GUID == nil || *b.GUID == "") {
		return nil, errors.New("'guid' must not be null")
	}
	if len(b.Chunks) == 0 {
		return nil, errors.New("'chunks' must contain at least one item")
	}

	seen := make(map[int64]bool, len(b.Chunks))
	chunks := make([]trackerdom.ChunkInput, len(b.Chunks))
	for i, c := range b.Chunks {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if seen[*c.ID] {
			return nil, fmt.Errorf("'chunks' must contain unique items (duplicate id %d)", *c.ID)
		}
		seen[*c.ID] = true
		chunks[i] = trackerdom.ChunkInput{ID: *c.ID, Name: *c.Name, Hash: *c.Hash}
	}

	return &trackerdom.AddFileRequest{
		Name:      *b.Name,
		FullHash:  *b.FullHash,
		Chunks:    chunks,
		GUID:      b.GUID,
		SeqNumber: *b.SeqNumber,
	}, nil
}

type keepAliveBody struct {
	GUID        *string `json:"guid"`
	KASeqNumber *int64  `json:"ka_seq_number"`
}

func (b *keepAliveBody) toRequest() (*trackerdom.KeepAliveRequest, error) {
	if b.GUID == nil || *b.GUID == "" {
		return nil, errors.New("'guid' is a required property")
	}
	if b.KASeqNumber == nil {
		return nil, errors.New("'ka_seq_number' is a required property")
	}
	return &trackerdom.KeepAliveRequest{GUID: *b.GUID, KASeqNumber: *b.KASeqNumber}, nil
}

type deregisterFileBody struct {
	FileID    *int64  `json:"file_id"`
	GUID      *string `json:"guid"`
	SeqNumber *int64  `json:"seq_number"`
}

func (b *deregisterFileBody) toRequest() (*trackerdom.DeregisterRequest, error) {
	if b.FileID == nil {
		return nil, errors.New("'file_id' is a required property")
	}
	if b.GUID == nil || *b.GUID == "" {
		return nil, errors.New("'guid' is a required property")
	}
	if b.SeqNumber == nil {
		return nil, errors.New("'seq_number' is a required property")
	}
	return &trackerdom.DeregisterRequest{FileID: b.FileID, GUID: *b.GUID, SeqNumber: *b.SeqNumber}, nil
}

type deregisterFileByHashBody struct {
	FileHash  *string `json:"file_hash"`
	GUID      *string `json:"guid"`
	SeqNumber *int64  `json:"seq_number"`
}

func (b *deregisterFileByHashBody) toRequest() (*trackerdom.DeregisterRequest, error) {
	if b.FileHash == nil || *b.FileHash == "" {
		return nil, errors.New("'file_hash' is a required property")
	}
	if b.GUID == nil || *b.GUID == "" {
		return nil, errors.New("'guid' is a required property")
	}
	if b.SeqNumber == nil {
		return nil, errors.New("'seq_number' is a required property")
	}
	return &trackerdom.DeregisterRequest{FileHash: b.FileHash, GUID: *b.GUID, SeqNumber: *b.SeqNumber}, nil
}

// newTrackerBody must be an empty object; additionalProperties:false on an
// empty schema means any key at all is rejected, which decodeStrict already
// enforces against this zero-field struct.
type newTrackerBody struct{}

var syncEventTypes = map[string]bool{
	"add_file":                true,
	"keep_alive":              true,
	"deregister_file_by_hash": true,
	"new_tracker":             true,
}

type trackerSyncBody struct {
	Event   *string         `json:"event"`
	EventIP *string         `json:"event_ip"`
	Data    json.RawMessage `json:"data"`
}

func (b *trackerSyncBody) validate() error {
	if b.Event == nil || !syncEventTypes[*b.Event] {
		return errors.New("'event' must be one of add_file, keep_alive, deregister_file_by_hash, new_tracker")
	}
	if b.EventIP == nil || net.ParseIP(*b.EventIP).To4() == nil {
		return errors.New("'event_ip' must be an IPv4 address")
	}
	if b.Data == nil {
		return errors.New("'data' is a required property")
	}
	return nil
}
