package postwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/fakezero/postwatch/internal/browser"
)

// startBrowser launches Chrome and attaches one instance per configured page.
// A page that fails to open is logged and skipped.
func (s *Service) startBrowser(ctx context.Context) error {
	bc := s.cfg.Browser
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        bc.Remote,
		ResourceBlocking: bc.ResourceBlocking,
		Mode:             browser.ParseMode(bc.Stealth),
		XvfbDisplay:      bc.XvfbDisplay,
		Logger:           s.logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("postwatch: start browser: %w", err)
	}

	s.mu.Lock()
	s.mgr = mgr
	s.mu.Unlock()

	for _, pc := range s.cfg.Pages {
		if err := s.ObservePage(ctx, pc); err != nil {
			s.logger.Error("postwatch: failed to observe page", "url", pc.URL, "error", err)
		}
	}
	return nil
}

// ObservePage opens pc in Chrome and attaches an instance to it. Start must
// have launched the browser.
func (s *Service) ObservePage(ctx context.Context, pc PageConfig) error {
	s.mu.Lock()
	mgr := s.mgr
	s.mu.Unlock()
	if mgr == nil {
		return fmt.Errorf("postwatch: observe %s: browser not started", pc.URL)
	}

	tab, err := browser.OpenTab(ctx, mgr, pc.URL, pc.ID)
	if err != nil {
		return err
	}
	page, err := browser.Bridge(s.ctx, tab, browser.PageOptions{
		DebounceWindow: s.cfg.Debounce.Window,
		DebounceMax:    s.cfg.Debounce.MaxBuffer,
		Logger:         s.logger,
	})
	if err != nil {
		tab.Close()
		return err
	}

	host := Host{
		Origin:    pc.URL,
		Document:  page,
		Mutations: page,
		Viewport:  page,
		Annotator: browser.NewAnnotator(page, s.cfg.Annotation.Message),
	}
	cleanup := func() {
		page.Close()
		if err := tab.Close(); err != nil {
			s.logger.Debug("postwatch: close tab", "error", err)
		}
	}
	if _, err := s.attach(ctx, pc.ID, pc.URL, host, cleanup); err != nil {
		cleanup()
		return err
	}
	s.logger.Info("postwatch: observing page", "url", pc.URL, "id", pc.ID)
	return nil
}
