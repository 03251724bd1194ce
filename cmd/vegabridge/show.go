package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/odvcencio/vegabridge/pkg/config"
	"github.com/odvcencio/vegabridge/pkg/encoding/toon"
	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
	"github.com/odvcencio/vegabridge/pkg/storage"
)

var showStdout io.Writer = os.Stdout
var showLoadConfigFn = config.Load
var showIsTerminal = func() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type shownWidget struct {
	ID        string          `json:"id"`
	Spec      json.RawMessage `json:"spec"`
	Opt       json.RawMessage `json:"opt"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func runShowCommand(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	dbPath := fs.String("db", "", "path of the widget store (default: storage.path from config)")
	storeBackend := fs.String("store", "", "widget store backend: sqlite or bolt (default: storage.backend from config)")
	widgetID := fs.String("widget", "", "show a single widget")
	formatName := fs.String("format", "", "output format: json or toon (default: toon on a terminal, json otherwise)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name := *formatName
	if strings.TrimSpace(name) == "" && showIsTerminal() {
		name = string(toon.FormatTOON)
	}
	format, err := toon.ParseFormat(name)
	if err != nil {
		return err
	}

	path := strings.TrimSpace(*dbPath)
	backend := strings.TrimSpace(*storeBackend)
	if path == "" {
		cfg, err := showLoadConfigFn()
		if err != nil {
			return withExitCode(err, exitCodeConfig)
		}
		path = cfg.Storage.Path
		if backend == "" {
			backend = cfg.Storage.Backend
		}
	}
	if path == "" {
		return fmt.Errorf("no widget store configured (set --db or storage.path)")
	}
	if _, err := os.Stat(path); err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "open widget store").WithContext("path", path)
	}

	store, err := storage.Open(backend, path)
	if err != nil {
		return err
	}
	defer store.Close()

	return showWidgets(showStdout, store, strings.TrimSpace(*widgetID), toon.New(format))
}

func showWidgets(w io.Writer, store storage.WidgetStore, id string, codec *toon.Codec) error {
	var records []storage.WidgetRecord
	if id != "" {
		rec, err := store.GetWidget(id)
		if err != nil {
			return err
		}
		if rec == nil {
			return vberrors.New(vberrors.ErrCodeWidgetNotFound, "widget not found").WithContext("widget", id)
		}
		records = append(records, *rec)
	} else {
		all, err := store.ListWidgets()
		if err != nil {
			return err
		}
		records = all
	}

	out := make([]shownWidget, 0, len(records))
	for _, rec := range records {
		out = append(out, shownWidget{
			ID:        rec.ID,
			Spec:      rawDocument(rec.SpecSource),
			Opt:       rawDocument(rec.OptSource),
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}

	data, err := codec.Marshal(map[string]any{"widgets": out})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

// rawDocument returns src as embedded JSON, or as a JSON string when src is
// not a valid document.
func rawDocument(src string) json.RawMessage {
	if strings.TrimSpace(src) == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(src)) {
		return json.RawMessage(src)
	}
	quoted, _ := json.Marshal(src)
	return quoted
}
