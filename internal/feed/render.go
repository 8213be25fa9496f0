package feed

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/posterwall/backend/internal/models"
)

// Card is one rendered poster.
type Card struct {
	Index    int             `json:"index"`
	ID       models.RecordID `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	VideoURL string          `json:"video_url"`
	Image    string          `json:"image"`
	Width    int             `json:"width,omitempty"`
	Height   int             `json:"height,omitempty"`
	HTML     template.HTML   `json:"html"`
}

const cardTemplate = `<div class="grid-item" data-index="{{.Index}}">
<article class="poster-card" data-id="{{.ID}}" data-url="{{.VideoURL}}" data-index="{{.Index}}">
<img class="poster-image" src="{{.Image}}" alt="{{.Title}}" loading="lazy">
<div class="play-icon"><svg viewBox="0 0 24 24"><polygon points="5,3 19,12 5,21"></polygon></svg></div>
<div class="poster-info"><h3 class="poster-title">{{.Title}}</h3><p class="poster-author">{{.Author}}</p></div>
<div class="edit-overlay"><button class="btn btn-icon btn-edit" title="Edit">✏️</button><button class="btn btn-icon btn-delete-quick" title="Delete">🗑️</button></div>
</article>
</div>`

// Renderer turns records into card markup.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the card template.
func NewRenderer() *Renderer {
	return &Renderer{tmpl: template.Must(template.New("card").Parse(cardTemplate))}
}

// Card renders the record found at position index.
func (r *Renderer) Card(index int, rec models.CoverRecord) (Card, error) {
	card := Card{
		Index:    index,
		ID:       rec.ID,
		Title:    rec.Title,
		Author:   rec.Author,
		VideoURL: rec.VideoURL,
		Image:    rec.ThumbnailSource(),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, templateData{Card: card, Image: imageURL(card.Image)}); err != nil {
		return Card{}, fmt.Errorf("render card %s: %w", rec.ID, err)
	}
	card.HTML = template.HTML(buf.String())
	return card, nil
}

// Cards renders records that start at position start.
func (r *Renderer) Cards(start int, records []models.CoverRecord) ([]Card, error) {
	out := make([]Card, 0, len(records))
	for i, rec := range records {
		card, err := r.Card(start+i, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, nil
}

type templateData struct {
	Card
	Image template.URL
}

// imageURL marks thumbnail sources as safe: they come from our own records
// and include data URLs that html/template would otherwise replace.
func imageURL(src string) template.URL {
	return template.URL(src)
}

const imageTag = `<img class="poster-image" src="`

var srcTemplate = template.Must(template.New("src").Parse(imageTag + `{{.}}">`))

// withImage returns html with the poster image source replaced by src,
// escaped exactly as the card template escapes it.
func withImage(html template.HTML, src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := srcTemplate.Execute(&buf, imageURL(src)); err != nil {
		return "", err
	}
	escaped := strings.TrimSuffix(strings.TrimPrefix(buf.String(), imageTag), `">`)

	doc := string(html)
	start := strings.Index(doc, imageTag)
	if start < 0 {
		return html, nil
	}
	start += len(imageTag)
	end := strings.IndexByte(doc[start:], '"')
	if end < 0 {
		return html, nil
	}
	return template.HTML(doc[:start] + escaped + doc[start+end:]), nil
}
