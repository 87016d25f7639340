package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

//go:embed web/templates/*.html web/static/*
var webContent embed.FS

const timeLayout = "2006-01-02 15:04"

// renderer holds the parsed page and partial templates
type renderer struct {
	pages    map[string]*template.Template
	partials *template.Template
	static   http.Handler
}

func newRenderer() (*renderer, error) {
	base, err := template.ParseFS(webContent, "web/templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base template: %w", err)
	}

	pages := make(map[string]*template.Template)
	for _, name := range []string{"signin", "config"} {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone base template: %w", err)
		}
		page, err := clone.ParseFS(webContent, "web/templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		pages[name] = page
	}
	pages["live"] = base

	partials, err := template.ParseFS(webContent, "web/templates/live.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse live templates: %w", err)
	}

	staticFS, err := fs.Sub(webContent, "web/static")
	if err != nil {
		return nil, fmt.Errorf("loading embedded static assets: %w", err)
	}

	return &renderer{
		pages:    pages,
		partials: partials,
		static:   http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	}, nil
}

// page renders a full document
func (v *renderer) page(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := v.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		slog.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// partial renders a live fragment
func (v *renderer) partial(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := v.partials.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

type pageData struct {
	Title       string
	Socket      string
	Provider    string
	Error       string
	Missing     []string
	RedirectURL string
}

type headerData struct {
	Name   string
	Active string
}

type huntData struct {
	Header   headerData
	Epoch    uint64
	Heading  string
	Loading  bool
	Error    string
	HasLevel bool
	Title    string
	Updated  string
	Question string
	ImageURL string
	Locked   bool
	Status   models.Status
	Label    string
}

func newHuntData(view models.HuntView) huntData {
	d := huntData{
		Header:  headerData{Name: view.DisplayName, Active: "hunt"},
		Epoch:   view.Epoch,
		Heading: "no level assigned yet",
		Loading: view.LevelLoading,
		Error:   view.LevelError,
		Locked:  view.SubmitLocked,
		Status:  view.Status,
		Label:   view.Status.Label(),
	}
	if view.Message != "" {
		d.Error = view.Message
	}
	if view.LevelNumber != nil {
		d.Heading = fmt.Sprintf("level %d", *view.LevelNumber)
	}

	if lvl := view.Level; lvl != nil {
		d.HasLevel = true
		d.Title = lvl.DisplayTitle()
		d.Updated = formatTime(lvl.UpdatedAt, "recently")
		if lvl.QuestionText != nil {
			d.Question = *lvl.QuestionText
		}
		if lvl.QuestionImageURL != nil {
			d.ImageURL = *lvl.QuestionImageURL
		}
	}
	return d
}

type boardRow struct {
	Rank    int
	Name    string
	Level   int
	Updated string
}

type boardData struct {
	Header  headerData
	Loading bool
	Error   string
	Rows    []boardRow
}

func newBoardData(name string, snap models.LeaderboardSnapshot) boardData {
	d := boardData{
		Header:  headerData{Name: name, Active: "board"},
		Loading: snap.Loading,
		Error:   snap.Error,
		Rows:    make([]boardRow, 0, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		d.Rows = append(d.Rows, boardRow{
			Rank:    i + 1,
			Name:    e.Name(),
			Level:   e.CurrentLevel,
			Updated: formatTime(e.UpdatedAt, "just now"),
		})
	}
	return d
}

func formatTime(t *time.Time, fallback string) string {
	if t == nil {
		return fallback
	}
	return t.UTC().Format(timeLayout)
}
