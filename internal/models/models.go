package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PlaceholderCover is rendered when a record has neither a local nor a remote cover.
const PlaceholderCover = `data:image/svg+xml,<svg xmlns="http://www.w3.org/2000/svg" width="280" height="500"><rect fill="%231a1a25" width="100%" height="100%"/><text x="50%" y="50%" fill="%23666" text-anchor="middle">无封面</text></svg>`

// Placeholder dimensions match the SVG above and are used when an image never loads.
const (
	PlaceholderWidth  = 280
	PlaceholderHeight = 500
)

// Defaults applied to records created from a resolved share link.
const (
	DefaultTitle  = "新添加视频"
	DefaultAuthor = "未知"
)

// RecordID is a cover identifier. The scraper writes string ids, hand-edited
// files sometimes carry numbers, so both decode into the same string form.
type RecordID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record id must be a string or number: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// CoverRecord is one saved video on the wall. Keys the wall does not model,
// such as the scraper's dynamic_cover, are kept in Extra and written back out
// so a save never strips them.
type CoverRecord struct {
	ID           RecordID `json:"id"`
	Title        string   `json:"title"`
	Author       string   `json:"author,omitempty"`
	AuthorID     string   `json:"author_id,omitempty"`
	VideoURL     string   `json:"video_url,omitempty"`
	RealVideoURL string   `json:"real_video_url,omitempty"`
	CoverURL     string   `json:"cover_url,omitempty"`
	LocalCover   string   `json:"local_cover,omitempty"`
	CreateTime   int64    `json:"create_time,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// coverFields is CoverRecord without its JSON methods.
type coverFields CoverRecord

var knownCoverKeys = map[string]struct{}{
	"id": {}, "title": {}, "author": {}, "author_id": {}, "video_url": {},
	"real_video_url": {}, "cover_url": {}, "local_cover": {}, "create_time": {},
}

// UnmarshalJSON decodes the modelled fields and keeps every other key in Extra.
func (r *CoverRecord) UnmarshalJSON(data []byte) error {
	var fields coverFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key := range knownCoverKeys {
		delete(all, key)
	}
	if len(all) == 0 {
		all = nil
	}
	fields.Extra = all
	*r = CoverRecord(fields)
	return nil
}

// MarshalJSON writes the modelled fields followed by Extra in key order.
func (r CoverRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(coverFields(r)); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	if len(r.Extra) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(r.Extra))
	for key := range r.Extra {
		if _, known := knownCoverKeys[key]; !known {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out = out[:len(out)-1]
	for _, key := range keys {
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		value := r.Extra[key]
		if !json.Valid(value) {
			return nil, fmt.Errorf("extra field %s is not valid JSON", key)
		}
		out = append(out, ',')
		out = append(out, name...)
		out = append(out, ':')
		out = append(out, value...)
	}
	return append(out, '}'), nil
}

// ThumbnailSource returns the image the wall renders for the record:
// the local asset first, then the remote cover, then the placeholder.
func (r CoverRecord) ThumbnailSource() string {
	if local := strings.TrimSpace(r.LocalCover); local != "" {
		return "/" + strings.TrimLeft(local, "/")
	}
	if remote := strings.TrimSpace(r.CoverURL); remote != "" {
		return remote
	}
	return PlaceholderCover
}

// CoverPatch carries an in-place update. Nil fields are left untouched.
type CoverPatch struct {
	Title        *string `json:"title,omitempty"`
	Author       *string `json:"author,omitempty"`
	RealVideoURL *string `json:"real_video_url,omitempty"`
	CoverURL     *string `json:"cover_url,omitempty"`
	LocalCover   *string `json:"local_cover,omitempty"`
}

// Apply returns a copy of rec with the patch applied.
func (p CoverPatch) Apply(rec CoverRecord) CoverRecord {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Author != nil {
		rec.Author = *p.Author
	}
	if p.RealVideoURL != nil {
		rec.RealVideoURL = *p.RealVideoURL
	}
	if p.CoverURL != nil {
		rec.CoverURL = *p.CoverURL
	}
	if p.LocalCover != nil {
		rec.LocalCover = *p.LocalCover
	}
	return rec
}

// ImageOnly reports whether the patch touches nothing but the cover image.
func (p CoverPatch) ImageOnly() bool {
	return p.Title == nil && p.Author == nil && p.RealVideoURL == nil && (p.CoverURL != nil || p.LocalCover != nil)
}

// Empty reports whether the patch changes nothing.
func (p CoverPatch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.RealVideoURL == nil && p.CoverURL == nil && p.LocalCover == nil
}

// StringPtr is a small helper for building patches.
func StringPtr(s string) *string {
	return &s
}
