package copilot

import (
	"fmt"
	"strconv"

	"github.com/go-json-experiment/json"

	"github.com/dmora/copilot/internal/errfmt"
	"github.com/dmora/copilot/internal/jsonutil"
)

// AttachmentType discriminates the Attachment variants.
type AttachmentType string

const (
	// AttachmentFile references a single file by path.
	AttachmentFile AttachmentType = "file"

	// AttachmentDirectory references a directory by path.
	AttachmentDirectory AttachmentType = "directory"

	// AttachmentSelection references a text selection inside a file.
	AttachmentSelection AttachmentType = "selection"
)

// Valid reports whether t is one of the known attachment types.
func (t AttachmentType) Valid() bool {
	switch t {
	case AttachmentFile, AttachmentDirectory, AttachmentSelection:
		return true
	}
	return false
}

// Position is a zero-based line/character offset in a file.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Attachment is contextual material attached to a prompt or recorded on a
// user.message event. The concrete type is one of *FileAttachment,
// *DirectoryAttachment or *SelectionAttachment; switch on it or on Type().
type Attachment interface {
	// Type returns the variant discriminator.
	Type() AttachmentType

	attachment()
}

// FileAttachment references a file.
type FileAttachment struct {
	Path        string
	DisplayName string
}

// DirectoryAttachment references a directory.
type DirectoryAttachment struct {
	Path        string
	DisplayName string
}

// SelectionAttachment references a span of text in a file. Selection and
// Text are nil when the record omits them.
type SelectionAttachment struct {
	FilePath    string
	DisplayName string
	Selection   *Range
	Text        *string
}

func (*FileAttachment) Type() AttachmentType      { return AttachmentFile }
func (*DirectoryAttachment) Type() AttachmentType { return AttachmentDirectory }
func (*SelectionAttachment) Type() AttachmentType { return AttachmentSelection }

func (*FileAttachment) attachment()      {}
func (*DirectoryAttachment) attachment() {}
func (*SelectionAttachment) attachment() {}

// pathAttachmentWire is the wire shape of file and directory attachments.
// path is required, so it is written even when empty.
type pathAttachmentWire struct {
	Type        AttachmentType `json:"type"`
	Path        string         `json:"path"`
	DisplayName string         `json:"displayName"`
}

type selectionAttachmentWire struct {
	Type        AttachmentType `json:"type"`
	FilePath    string         `json:"filePath"`
	DisplayName string         `json:"displayName"`
	Selection   *Range         `json:"selection,omitzero"`
	Text        *string        `json:"text,omitzero"`
}

// MarshalJSON implements [json.Marshaler].
func (a *FileAttachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(pathAttachmentWire{Type: AttachmentFile, Path: a.Path, DisplayName: a.DisplayName})
}

// MarshalJSON implements [json.Marshaler].
func (a *DirectoryAttachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(pathAttachmentWire{Type: AttachmentDirectory, Path: a.Path, DisplayName: a.DisplayName})
}

// MarshalJSON implements [json.Marshaler].
func (a *SelectionAttachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(selectionAttachmentWire{
		Type:        AttachmentSelection,
		FilePath:    a.FilePath,
		DisplayName: a.DisplayName,
		Selection:   a.Selection,
		Text:        a.Text,
	})
}

// AttachmentFromRecord decodes a wire record into its Attachment variant.
//
// The record uses camelCase keys:
//
//	{"type":"file",      "path":..., "displayName":...}
//	{"type":"directory", "path":..., "displayName":...}
//	{"type":"selection", "filePath":..., "displayName":...,
//	 "selection"?: {"start":{"line":..,"character":..}, "end":{...}},
//	 "text"?: ...}
//
// Absent or null optional fields decode to nil. An unknown type, or a
// missing or ill-typed required field, returns a *ValidationError matching
// ErrMalformedRecord.
func AttachmentFromRecord(record map[string]any) (Attachment, error) {
	if record == nil {
		return nil, malformedAttachment("", "record is null")
	}
	kind, err := requiredString(record, "type")
	if err != nil {
		return nil, err
	}

	switch AttachmentType(kind) {
	case AttachmentFile:
		path, name, err := pathAndName(record)
		if err != nil {
			return nil, err
		}
		return &FileAttachment{Path: path, DisplayName: name}, nil

	case AttachmentDirectory:
		path, name, err := pathAndName(record)
		if err != nil {
			return nil, err
		}
		return &DirectoryAttachment{Path: path, DisplayName: name}, nil

	case AttachmentSelection:
		return selectionFromRecord(record)

	default:
		return nil, malformedAttachment("type", "unknown attachment type "+strconv.Quote(errfmt.Value(kind)))
	}
}

// UnmarshalAttachment decodes a JSON object into its Attachment variant.
func UnmarshalAttachment(data []byte) (Attachment, error) {
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, malformedAttachment("", errfmt.Truncate(err.Error()))
	}
	return AttachmentFromRecord(record)
}

// MarshalAttachment encodes a in its wire shape. It is the inverse of
// UnmarshalAttachment.
func MarshalAttachment(a Attachment) ([]byte, error) {
	return json.Marshal(a)
}

// AttachmentList decodes a JSON array of attachment records. Marshaling
// writes each element in its wire shape.
type AttachmentList []Attachment

// UnmarshalJSON implements [json.Unmarshaler].
func (l *AttachmentList) UnmarshalJSON(data []byte) error {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return malformedAttachment("", errfmt.Truncate(err.Error()))
	}
	out := make(AttachmentList, 0, len(records))
	for i, r := range records {
		a, err := AttachmentFromRecord(r)
		if err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

func pathAndName(record map[string]any) (path, name string, err error) {
	if path, err = requiredString(record, "path"); err != nil {
		return "", "", err
	}
	if name, err = requiredString(record, "displayName"); err != nil {
		return "", "", err
	}
	return path, name, nil
}

func selectionFromRecord(record map[string]any) (Attachment, error) {
	filePath, err := requiredString(record, "filePath")
	if err != nil {
		return nil, err
	}
	name, err := requiredString(record, "displayName")
	if err != nil {
		return nil, err
	}
	a := &SelectionAttachment{FilePath: filePath, DisplayName: name}

	if v, ok := jsonutil.Lookup(record, "selection"); ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, malformedAttachment("selection", "must be an object")
		}
		r, err := rangeFromRecord(m)
		if err != nil {
			return nil, err
		}
		a.Selection = r
	}

	if _, ok := jsonutil.Lookup(record, "text"); ok {
		text, ok := jsonutil.GetString(record, "text")
		if !ok {
			return nil, malformedAttachment("text", "must be a string")
		}
		a.Text = &text
	}
	return a, nil
}

func rangeFromRecord(m map[string]any) (*Range, error) {
	start, err := positionFromRecord(m, "start")
	if err != nil {
		return nil, err
	}
	end, err := positionFromRecord(m, "end")
	if err != nil {
		return nil, err
	}
	return &Range{Start: start, End: end}, nil
}

func positionFromRecord(m map[string]any, key string) (Position, error) {
	field := "selection." + key
	pm, ok := jsonutil.GetMap(m, key)
	if !ok {
		if _, present := jsonutil.Lookup(m, key); present {
			return Position{}, malformedAttachment(field, "must be an object")
		}
		return Position{}, malformedAttachment(field, "missing required field")
	}
	line, err := requiredOffset(pm, "line", field+".line")
	if err != nil {
		return Position{}, err
	}
	char, err := requiredOffset(pm, "character", field+".character")
	if err != nil {
		return Position{}, err
	}
	return Position{Line: line, Character: char}, nil
}

func requiredString(m map[string]any, key string) (string, error) {
	if _, ok := jsonutil.Lookup(m, key); !ok {
		return "", malformedAttachment(key, "missing required field")
	}
	s, ok := jsonutil.GetString(m, key)
	if !ok {
		return "", malformedAttachment(key, "must be a string")
	}
	if jsonutil.ContainsNull(s) {
		return "", malformedAttachment(key, "contains null bytes")
	}
	return s, nil
}

func requiredOffset(m map[string]any, key, field string) (int, error) {
	v, ok := jsonutil.Lookup(m, key)
	if !ok {
		return 0, malformedAttachment(field, "missing required field")
	}
	n, ok := jsonutil.AsInt(v)
	if !ok || n < 0 {
		return 0, malformedAttachment(field, "must be a non-negative integer")
	}
	return n, nil
}

func malformedAttachment(field, reason string) *ValidationError {
	return &ValidationError{Record: "attachment", Field: field, Reason: reason}
}
