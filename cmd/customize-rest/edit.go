package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/adapters/remote"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/bootstrap"
	"github.com/xwp/wp-customize-rest-resources/config"
	"github.com/xwp/wp-customize-rest-resources/core/events"
	"github.com/xwp/wp-customize-rest-resources/core/fields"
	"github.com/xwp/wp-customize-rest-resources/core/formatter"
	"github.com/xwp/wp-customize-rest-resources/core/store"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

var (
	editServer  string
	editLoad    []string
	editSet     []string
	editSave    bool
	editTimeout time.Duration
	editOutput  string
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the resources of a running server",
	Long: `Open a sync session on a running server and attach a preview and a
control panel to it. The preview loads the given routes; the panel builds a
form for every resource the preview discovers and applies the edits, which
are previewed by reloading the route with the staged values. With --save
the dirty settings are committed.

An edit is written <setting>.<field>=<value>.

Examples:
  customize-rest edit --load wp/v2/posts/4
  customize-rest edit --load wp/v2/posts/4 --set 'resource[wp/v2/posts/4].status=draft' --save`,
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringVar(&editServer, "server", "", "server origin (default: origin of api.root)")
	editCmd.Flags().StringArrayVar(&editLoad, "load", nil, "route to load in the preview (repeatable)")
	editCmd.Flags().StringArrayVar(&editSet, "set", nil, "edit as <setting>.<field>=<value> (repeatable)")
	editCmd.Flags().BoolVar(&editSave, "save", false, "commit the dirty settings")
	editCmd.Flags().DurationVar(&editTimeout, "timeout", 30*time.Second, "time allowed for the whole session")
	editCmd.Flags().StringVarP(&editOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runEdit(cmd *cobra.Command, args []string) error {
	f, err := formatter.NewRegistry().Get(editOutput)
	if err != nil {
		return err
	}
	edits, err := parseEdits(editSet)
	if err != nil {
		return err
	}
	if len(editLoad) == 0 {
		return fmt.Errorf("nothing to edit: pass at least one --load route")
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.Logging)

	server := editServer
	if server == "" {
		if server, err = origin(cfg.API.Root); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), editTimeout)
	defer cancel()

	client := remote.NewClient(remote.ClientConfig{BaseURL: server, Mount: cfg.API.Mount})
	s, err := openEditSession(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	defer s.close()

	for _, route := range editLoad {
		if err := s.load(ctx, route); err != nil {
			return err
		}
	}
	for _, e := range edits {
		if err := s.apply(ctx, e); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if editSave {
		result, err := s.panel.Save(ctx)
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
		fmt.Fprintf(out, "Saved %d settings\n", len(result.Saved))
		for _, id := range sortedErrorIDs(result.Errors) {
			fmt.Fprintf(out, "  %s %s: %s\n", crossMark, id, result.Errors[id])
		}
	}
	return f.FormatList(out, []string{"setting", "field", "value", "dirty", "previewed"}, s.records())
}

// edit is one --set argument.
type edit struct {
	id    resource.ID
	field string
	value string
}

func parseEdits(args []string) ([]edit, error) {
	var edits []edit
	for _, arg := range args {
		i := strings.Index(arg, "].")
		if i < 0 {
			return nil, fmt.Errorf("invalid edit %q: want <setting>.<field>=<value>", arg)
		}
		id, err := resource.ParseID(arg[:i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid edit %q: %w", arg, err)
		}
		field, value, ok := strings.Cut(arg[i+2:], "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid edit %q: want <setting>.<field>=<value>", arg)
		}
		edits = append(edits, edit{id: id, field: field, value: value})
	}
	return edits, nil
}

// origin returns the scheme and host of the API root.
func origin(apiRoot string) (string, error) {
	u, err := url.Parse(apiRoot)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cannot derive the server from api.root %q; pass --server", apiRoot)
	}
	return u.Scheme + "://" + u.Host, nil
}

// editSession is a preview and a panel joined through the server's relay.
type editSession struct {
	client  *remote.Client
	preview *app.PreviewManager
	panel   *app.PanelManager
	logger  zerolog.Logger

	endpoints []*syncchan.Endpoint
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	formAdded chan struct{}

	mu        sync.Mutex
	previewed map[resource.ID]resource.Resource
}

func openEditSession(ctx context.Context, cfg *config.Config, client *remote.Client, logger zerolog.Logger) (*editSession, error) {
	api, err := bootstrap.NewAPI(cfg, memory.NewResourceStore(), nil, logger)
	if err != nil {
		return nil, err
	}
	index, err := routeschema.NewIndex(api.RouteTable().Routes)
	if err != nil {
		return nil, fmt.Errorf("route index: %w", err)
	}
	loc, err := cfg.Editor.Location()
	if err != nil {
		return nil, err
	}
	codec, err := syncchan.CodecByName(cfg.Editor.SyncCodec)
	if err != nil {
		return nil, err
	}

	session, err := client.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	previewConn, err := client.Dial(ctx, session.Preview)
	if err != nil {
		return nil, fmt.Errorf("attach preview: %w", err)
	}
	panelConn, err := client.Dial(ctx, session.Panel)
	if err != nil {
		previewConn.Close()
		return nil, fmt.Errorf("attach panel: %w", err)
	}
	logger = logger.With().Str("session", session.ID).Logger()

	previewEP, err := syncchan.NewEndpoint(syncchan.SidePreview, previewConn, logger, syncchan.WithCodec(codec))
	if err != nil {
		previewConn.Close()
		panelConn.Close()
		return nil, err
	}
	panelEP, err := syncchan.NewEndpoint(syncchan.SidePanel, panelConn, logger, syncchan.WithCodec(codec))
	if err != nil {
		previewConn.Close()
		panelConn.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &editSession{
		client:    client,
		logger:    logger,
		endpoints: []*syncchan.Endpoint{previewEP, panelEP},
		cancel:    cancel,
		formAdded: make(chan struct{}, 1),
		previewed: make(map[resource.ID]resource.Resource),
	}

	s.preview, err = app.NewPreviewManager(ctx, app.PreviewDeps{
		Endpoint: previewEP,
		Store:    store.New(events.NewBus(logger), logger),
		Logger:   logger,
	}, app.PreviewConfig{APIRoot: cfg.API.Root})
	if err != nil {
		s.close()
		return nil, err
	}
	s.panel, err = app.NewPanelManager(app.PanelDeps{
		Endpoint: panelEP,
		Store:    store.New(events.NewBus(logger), logger),
		Index:    index,
		Saver:    client,
		Logger:   logger,
	}, app.PanelConfig{APIRoot: cfg.API.Root, Location: loc})
	if err != nil {
		s.close()
		return nil, err
	}
	s.panel.OnForm(func(*fields.Form) {
		select {
		case s.formAdded <- struct{}{}:
		default:
		}
	})
	s.panel.OnRefresh(s.refresh)

	active := make(chan struct{})
	var once sync.Once
	previewEP.OnActive(func(context.Context) { once.Do(func() { close(active) }) })

	for _, ep := range s.endpoints {
		s.wg.Add(1)
		go func(ep *syncchan.Endpoint) {
			defer s.wg.Done()
			if err := ep.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Warn().Err(err).Str("side", string(ep.Side())).Msg("sync channel ended")
			}
		}(ep)
	}

	if err := s.preview.Start(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("announce preview: %w", err)
	}
	select {
	case <-active:
	case <-ctx.Done():
		s.close()
		return nil, fmt.Errorf("waiting for the panel: %w", ctx.Err())
	}
	logger.Debug().Msg("sync session active")
	return s, nil
}

// load fetches a route in the preview and waits for the panel to build the
// forms of every resource discovered in it.
func (s *editSession) load(ctx context.Context, route string) error {
	header, data, err := s.client.Get(ctx, route, nil)
	if err != nil {
		return fmt.Errorf("load %s: %w", route, err)
	}
	ids := s.preview.Discover(ctx, header, data)
	if len(ids) == 0 {
		return fmt.Errorf("load %s: no editable resources in the response", route)
	}

	for {
		missing := false
		for _, id := range ids {
			if _, ok := s.panel.Form(id); !ok {
				missing = true
				break
			}
		}
		if !missing {
			return nil
		}
		select {
		case <-s.formAdded:
		case <-ctx.Done():
			return fmt.Errorf("load %s: waiting for forms: %w", route, ctx.Err())
		}
	}
}

func (s *editSession) apply(ctx context.Context, e edit) error {
	form, ok := s.panel.Form(e.id)
	if !ok {
		return fmt.Errorf("edit %s: setting is not loaded", e.id)
	}
	w := form.Widget(e.field)
	if w == nil {
		return fmt.Errorf("edit %s: unknown field %q", e.id, e.field)
	}
	if err := w.Set(ctx, e.value); err != nil {
		return fmt.Errorf("edit %s.%s: %w", e.id, e.field, err)
	}
	return nil
}

// refresh reloads the route of a setting with the staged values, the way a
// preview that cannot apply an edit in place is reloaded.
func (s *editSession) refresh(ctx context.Context, id resource.ID, customized []byte) {
	_, data, err := s.client.Get(ctx, id.Route(), customized)
	if err != nil {
		s.logger.Warn().Err(err).Str("setting", string(id)).Msg("preview refresh failed")
		return
	}
	r, ok := data.(map[string]any)
	if !ok {
		return
	}
	s.mu.Lock()
	s.previewed[id] = resource.Resource(r)
	s.mu.Unlock()
}

// records lists every field of every form.
func (s *editSession) records() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []map[string]any
	for _, form := range s.panel.Forms() {
		entry, _ := s.panel.Store().Get(form.ID())
		previewed := s.previewed[form.ID()]
		for _, w := range form.Widgets() {
			rec := map[string]any{
				"setting":   string(form.ID()),
				"field":     w.Name(),
				"value":     w.Text(),
				"dirty":     entry.Dirty,
				"previewed": "",
			}
			if previewed != nil {
				rec["previewed"] = display(previewed[w.Name()])
			}
			records = append(records, rec)
		}
	}
	return records
}

func (s *editSession) close() {
	s.cancel()
	for _, ep := range s.endpoints {
		ep.Close()
	}
	s.wg.Wait()
}

func display(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedErrorIDs(errs map[resource.ID]string) []resource.ID {
	ids := make([]resource.ID, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
