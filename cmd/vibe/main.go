// Package main implements the vibe terminal viewer.
//
// vibe resolves a (theme, location) query through the same fallback chain
// as the service and cycles through the results, printing one frame per
// slide. While it runs, stdin accepts n (next), p (previous), q (quit) or a
// new "theme, location" query.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danki-amsterdam/witvis/internal/app"
	"github.com/danki-amsterdam/witvis/internal/config"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/slideshow"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	theme    string
	location string
	interval time.Duration
	once     bool
}

func rootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "vibe",
		Short:        "Ambient photo slideshow for a theme and a location",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				opts.interval = cfg.SlideInterval
			}
			q := model.Query{Theme: opts.theme, Location: opts.location}.WithDefaults(cfg.DefaultTheme, cfg.DefaultLocation)

			// Logs go to stderr so frames on stdout stay readable.
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

			store, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer storage.Close(store)

			resolver := app.NewResolver(cfg, store, logger)
			if opts.once {
				return printAll(cmd.Context(), cmd.OutOrStdout(), resolver, q)
			}
			return watch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), resolver, q, opts.interval)
		},
	}

	cmd.Flags().StringVarP(&opts.theme, "theme", "t", "", "theme to search for (default WITVIS_DEFAULT_THEME)")
	cmd.Flags().StringVarP(&opts.location, "location", "l", "", "location to search for (default WITVIS_DEFAULT_LOCATION)")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", slideshow.DefaultInterval, "time per slide")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the resolved images and exit")
	return cmd
}

// printAll resolves q once and lists every image.
func printAll(ctx context.Context, out io.Writer, r slideshow.Resolver, q model.Query) error {
	images := r.Resolve(ctx, q)
	if len(images) == 0 {
		fmt.Fprintf(out, "no images for %s\n", q.Text())
		return nil
	}
	for i, img := range images {
		printFrame(out, slideshow.Frame{Query: q, Index: i, Total: len(images), Image: img})
	}
	return nil
}

// watch runs the interactive slideshow until ctx ends, stdin closes or q is read.
func watch(ctx context.Context, in io.Reader, out io.Writer, r slideshow.Resolver, q model.Query, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	show := slideshow.New(r)
	defer show.Stop()
	frames := slideshow.NewLatest()
	show.OnChange(frames.Offer)

	s := &session{show: show, searches: make(chan model.Query, 1)}
	go s.search(ctx, q)
	go s.readCommands(in, cancel)
	go show.Run(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frames.Ready():
			if f, ok := frames.Take(); ok {
				printFrame(out, f)
			}
		case next := <-s.searches:
			go s.search(ctx, next)
		}
	}
}

// session routes stdin commands to a slideshow.
type session struct {
	show     *slideshow.Slideshow
	searches chan model.Query
}

func (s *session) search(ctx context.Context, q model.Query) {
	s.show.Search(ctx, q)
}

func (s *session) readCommands(in io.Reader, quit context.CancelFunc) {
	defer quit()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !s.handle(scanner.Text()) {
			return
		}
	}
}

// handle applies one command line. It returns false on quit.
func (s *session) handle(line string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return true
	case "q", "quit":
		return false
	case "n", "next":
		s.show.Next()
		return true
	case "p", "prev":
		s.show.Prev()
		return true
	}

	if q, ok := parseQuery(line); ok {
		cur, _ := s.show.Current()
		q = q.WithDefaults(cur.Query.Theme, cur.Query.Location)
		// Keep only the newest pending query; the slideshow cancels older ones.
		select {
		case <-s.searches:
		default:
		}
		s.searches <- q
	}
	return true
}

// parseQuery reads "theme, location". A bare word changes the theme only.
func parseQuery(line string) (model.Query, bool) {
	theme, location, _ := strings.Cut(line, ",")
	q := model.Query{Theme: strings.TrimSpace(theme), Location: strings.TrimSpace(location)}
	return q, q.Theme != "" || q.Location != ""
}

func printFrame(out io.Writer, f slideshow.Frame) {
	if f.Total == 0 {
		fmt.Fprintf(out, "no images for %s\n", f.Query.Text())
		return
	}
	img := f.Image
	line := fmt.Sprintf("[%d/%d] %s  photo by %s (%s)", f.Index+1, f.Total, img.URL, img.Photographer, img.Source)
	if img.AttributionURL != nil {
		line += " " + *img.AttributionURL
	}
	fmt.Fprintln(out, line)
}
