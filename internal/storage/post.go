package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/carousel-generator/internal/types"
)

var (
	// ErrPostNotFound is returned when no metadata document exists for a post.
	ErrPostNotFound = errors.New("storage: post not found")
	// ErrMissingFrontMatter indicates the metadata document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("storage: missing frontmatter")
)

// SlideMetadata describes one slide in the metadata document.
type SlideMetadata struct {
	Index  int    `yaml:"index" json:"index"`
	Text   string `yaml:"text" json:"text"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	Failed bool   `yaml:"failed,omitempty" json:"failed,omitempty"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// PostMetadata is the front matter of a post's metadata document.
type PostMetadata struct {
	PostID        string          `yaml:"post_id" json:"post_id"`
	Title         string          `yaml:"title" json:"title"`
	GeneratedAt   time.Time       `yaml:"generated_at" json:"generated_at"`
	InputMode     string          `yaml:"input_mode" json:"input_mode"`
	SourceRow     int             `yaml:"source_row,omitempty" json:"source_row,omitempty"`
	SourceURL     string          `yaml:"source_url,omitempty" json:"source_url,omitempty"`
	CarouselStyle string          `yaml:"carousel_style" json:"carousel_style"`
	ArtStyle      string          `yaml:"art_style" json:"art_style"`
	Colors        []string        `yaml:"colors,omitempty" json:"colors,omitempty"`
	TextPlacement string          `yaml:"text_placement" json:"text_placement"`
	Hashtags      []string        `yaml:"hashtags,omitempty" json:"hashtags,omitempty"`
	Slides        []SlideMetadata `yaml:"slides" json:"slides"`
}

// PostArtifact bundles everything written for one post.
type PostArtifact struct {
	PostID      string
	InputMode   string
	GeneratedAt time.Time
	Source      types.CandidatePost
	Brief       types.CreativeBrief
	Copy        types.CopyContent
	Prompts     []types.ImagePrompt
	Images      []types.GeneratedImage
}

// SavedPost reports where a post's artifacts landed.
type SavedPost struct {
	Dir        string   `json:"dir"`
	Document   string   `json:"document"`
	ImageFiles []string `json:"image_files"`
}

// PostSummary is the listing view of a saved post.
type PostSummary struct {
	PostID      string    `json:"post_id"`
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	ImageCount  int       `json:"image_count"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
}

// PostDetail is a loaded post with its rendered document body.
type PostDetail struct {
	Meta PostMetadata `json:"meta"`
	Body string       `json:"body"`
}

// DocumentKey returns the storage key of a post's metadata document.
func DocumentKey(postID string) string {
	return path.Join(postID, postID+"_content.md")
}

// SavePost writes the slides and metadata document for one post:
//
//	<post_id>/images/slide_NN_<slug>.<ext>
//	<post_id>/<post_id>_content.md
//
// Failed slots are listed in the metadata but no file is written for them.
func (s *FileStore) SavePost(ctx context.Context, post PostArtifact) (*SavedPost, error) {
	if post.PostID == "" {
		return nil, errors.New("storage: post id is required")
	}
	if post.GeneratedAt.IsZero() {
		post.GeneratedAt = s.now().UTC()
	}

	meta := PostMetadata{
		PostID:        post.PostID,
		Title:         post.Copy.PostTitle,
		GeneratedAt:   post.GeneratedAt,
		InputMode:     post.InputMode,
		SourceRow:     post.Source.RowIndex,
		SourceURL:     post.Source.URL,
		CarouselStyle: string(post.Brief.CarouselStyle),
		ArtStyle:      post.Brief.ArtStyle,
		Colors:        post.Brief.Colors,
		TextPlacement: post.Brief.Placement(),
		Hashtags:      post.Copy.Hashtags,
	}

	saved := &SavedPost{Dir: post.PostID}
	for _, img := range post.Images {
		slide := SlideMetadata{
			Index:  img.Index,
			Text:   post.Copy.SlideText(img.Index),
			Source: img.Source,
			Failed: img.Failed,
			Reason: img.Reason,
		}
		if !img.Failed && len(img.Bytes) > 0 {
			key := path.Join(post.PostID, "images", SlideFileName(img.Index, slide.Text, img.Extension()))
			written, err := s.Write(ctx, key, img.Bytes)
			if err != nil {
				return nil, err
			}
			slide.File = written
			saved.ImageFiles = append(saved.ImageFiles, written)
		}
		meta.Slides = append(meta.Slides, slide)
	}

	doc, err := WriteFrontMatter(meta, renderPostBody(post))
	if err != nil {
		return nil, err
	}
	docKey, err := s.Write(ctx, DocumentKey(post.PostID), doc)
	if err != nil {
		return nil, err
	}
	saved.Document = docKey
	return saved, nil
}

// LoadPost reads a post's metadata document.
func (s *FileStore) LoadPost(postID string) (*PostDetail, error) {
	data, err := s.Read(DocumentKey(postID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return nil, err
	}
	return &PostDetail{Meta: meta, Body: string(body)}, nil
}

// ListPosts returns saved posts, newest first. Directories without a
// readable metadata document are skipped.
func (s *FileStore) ListPosts() ([]PostSummary, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: list posts: %w", err)
	}

	var posts []PostSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		detail, err := s.LoadPost(entry.Name())
		if err != nil {
			continue
		}
		summary := PostSummary{
			PostID:      detail.Meta.PostID,
			Title:       detail.Meta.Title,
			GeneratedAt: detail.Meta.GeneratedAt,
		}
		for _, slide := range detail.Meta.Slides {
			if slide.File == "" {
				continue
			}
			summary.ImageCount++
			if summary.Thumbnail == "" {
				summary.Thumbnail = slide.File
			}
		}
		posts = append(posts, summary)
	}

	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].GeneratedAt.Equal(posts[j].GeneratedAt) {
			return posts[i].GeneratedAt.After(posts[j].GeneratedAt)
		}
		return posts[i].PostID > posts[j].PostID
	})
	return posts, nil
}

var (
	slugUnsafe   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	slugReplacer = strings.NewReplacer(" ", "_", "/", "_")
)

// SlideFileName builds slide_NN_<slug>.<ext> with a 1-based slide number.
func SlideFileName(index int, text, ext string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(slugReplacer.Replace(strings.TrimSpace(text)), ""), "_-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "_-")
	}
	if slug == "" {
		slug = "slide"
	}
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("slide_%02d_%s.%s", index+1, slug, ext)
}

// ParseFrontMatter splits a document into its YAML metadata and body.
func ParseFrontMatter(content []byte) (PostMetadata, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return PostMetadata{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return PostMetadata{}, nil, fmt.Errorf("storage: unterminated frontmatter")
	}
	var meta PostMetadata
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return PostMetadata{}, nil, fmt.Errorf("storage: parse frontmatter: %w", err)
	}
	return meta, bytes.TrimLeft(parts[1], "\n"), nil
}

// WriteFrontMatter renders metadata and body with YAML fences.
func WriteFrontMatter(meta PostMetadata, body []byte) ([]byte, error) {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("storage: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

func renderPostBody(post PostArtifact) []byte {
	var sb strings.Builder
	title := post.Copy.PostTitle
	if title == "" {
		title = post.PostID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated:** %s\n\n", post.GeneratedAt.Format("2006-01-02 15:04:05"))

	sb.WriteString("## Caption\n\n")
	sb.WriteString(strings.TrimSpace(post.Copy.PostCaption))
	sb.WriteString("\n\n")
	if len(post.Copy.Hashtags) > 0 {
		tags := make([]string, len(post.Copy.Hashtags))
		for i, h := range post.Copy.Hashtags {
			tags[i] = "#" + strings.TrimPrefix(h, "#")
		}
		sb.WriteString(strings.Join(tags, " "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Slides\n\n")
	for i, text := range post.Copy.ImageTexts {
		fmt.Fprintf(&sb, "%d. **%s**\n", i+1, text)
	}

	sb.WriteString("\n## Creative Direction\n\n")
	fmt.Fprintf(&sb, "- Carousel style: %s\n", post.Brief.CarouselStyle)
	fmt.Fprintf(&sb, "- Art style: %s\n", post.Brief.ArtStyle)
	fmt.Fprintf(&sb, "- Colors: %s\n", strings.Join(post.Brief.Colors, ", "))
	fmt.Fprintf(&sb, "- Text placement: %s\n", post.Brief.Placement())
	if post.Brief.Reasoning != "" {
		fmt.Fprintf(&sb, "\n%s\n", post.Brief.Reasoning)
	}

	if len(post.Prompts) > 0 {
		sb.WriteString("\n## Image Prompts\n\n")
		for _, p := range post.Prompts {
			fmt.Fprintf(&sb, "### Slide %d: %s\n\n```\n%s\n```\n\n", p.Index+1, p.Text, p.Prompt)
		}
	}

	if script := post.Source.Script(); script != "" {
		sb.WriteString("## Source\n\n")
		if post.Source.ViralityTag != "" || post.Source.EngagementTag != "" {
			fmt.Fprintf(&sb, "Virality: %s, engagement: %s\n\n", post.Source.ViralityTag, post.Source.EngagementTag)
		}
		fmt.Fprintf(&sb, "```\n%s\n```\n", script)
	}
	return []byte(sb.String())
}
