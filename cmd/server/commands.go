package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/snapclass/internal/acquire"
	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/classifier"
	"github.com/Brownie44l1/snapclass/internal/config"
	"github.com/Brownie44l1/snapclass/internal/handlers"
	"github.com/Brownie44l1/snapclass/internal/labels"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/metrics"
	"github.com/Brownie44l1/snapclass/internal/model"
	"github.com/Brownie44l1/snapclass/internal/model/onnx"
	"github.com/Brownie44l1/snapclass/internal/model/tflite"
	"github.com/Brownie44l1/snapclass/internal/permission"
	"github.com/Brownie44l1/snapclass/internal/session"
)

// flagKeys maps command line flags onto config keys. Flags only override
// when set explicitly.
var flagKeys = map[string]string{
	"port":       "server.port",
	"backend":    "model.backend",
	"model":      "model.path",
	"metadata":   "model.metadata",
	"labels":     "model.labels",
	"top-k":      "model.top_k",
	"permission": "camera.permission",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// app holds what every command needs once configuration is loaded.
type app struct {
	settings   *config.Settings
	log        *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	loader     model.Loader
	classifier *classifier.Classifier
	provider   *acquire.FileProvider
}

func rootCommand() *cobra.Command {
	var configFile string
	a := &app{}

	root := &cobra.Command{
		Use:           "snapclass",
		Short:         "Classify photos from a gallery or a camera",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			for name, key := range flagKeys {
				if f := cmd.Flags().Lookup(name); f != nil {
					if err := v.BindPFlag(key, f); err != nil {
						return err
					}
				}
			}
			settings, err := config.Load(v)
			if err != nil {
				return err
			}
			a.settings = settings
			return a.initialize()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./snapclass.yaml)")
	pf.String("backend", "", "model backend: tflite or onnx")
	pf.String("model", "", "path to the model file")
	pf.String("metadata", "", "path to the model metadata JSON (onnx)")
	pf.String("labels", "", "path to the label file")
	pf.Int("top-k", 0, "number of predictions to report")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(serveCommand(a), classifyCommand(a), captureCommand(a))
	return root
}

// initialize is called before any subcommand runs.
func (a *app) initialize() error {
	log, err := logging.Init(a.settings.Log)
	if err != nil {
		return err
	}
	a.log = log

	lbls, err := labels.LoadFile(a.settings.Model.Labels)
	if err != nil {
		return err
	}

	a.loader, err = openModel(a.settings.Model)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrModelUnavailable, err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return err
	}

	a.classifier = classifier.New(a.loader, lbls,
		classifier.WithTopK(a.settings.Model.TopK),
		classifier.WithMetrics(a.metrics),
		classifier.WithLogger(logging.Module("classifier")))

	a.provider, err = acquire.NewFileProvider(a.settings.Camera.Authority, a.settings.Camera.Dir)
	if err != nil {
		return err
	}

	log.Info("model loaded",
		"backend", a.settings.Model.Backend,
		"path", a.settings.Model.Path,
		"labels", len(lbls))
	return nil
}

func openModel(s config.ModelSettings) (model.Loader, error) {
	switch strings.ToLower(s.Backend) {
	case "onnx":
		return onnx.New(onnx.Options{
			ModelPath:         s.Path,
			MetadataPath:      s.Metadata,
			SharedLibraryPath: s.ORTLibrary,
			Logger:            logging.Module("onnx"),
		})
	case "tflite":
		return tflite.New(tflite.Options{
			ModelPath: s.Path,
			Threads:   s.Threads,
			Logger:    logging.Module("tflite"),
		})
	default:
		return nil, fmt.Errorf("unknown model backend %q", s.Backend)
	}
}

func (a *app) close() {
	if a.loader != nil {
		if err := a.loader.Close(); err != nil {
			a.log.Warn("failed to release model", "error", err)
		}
	}
}

func (a *app) newController(id string, requester permission.Requester) *session.Controller {
	return session.NewController(id, session.Deps{
		Classifier: a.classifier,
		Camera:     acquire.NewCamera(a.provider, logging.Module("camera")),
		Requester:  requester,
		Metrics:    a.metrics,
		Logger:     logging.Module("session"),
	})
}

func serveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (default 8080, or $PORT)")
	cmd.Flags().String("permission", "", "camera permission policy: grant, deny or manual")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	s := a.settings
	policy, err := permission.ParsePolicy(s.Camera.Permission)
	if err != nil {
		return err
	}
	if policy == permission.PolicyPrompt {
		return errors.New("the prompt permission policy needs a terminal; use manual for the HTTP API")
	}

	store := session.NewStore(s.Session.TTL, s.Session.CleanupInterval, func(id string) (*session.Controller, error) {
		requester, err := permission.NewRequester(policy)
		if err != nil {
			return nil, err
		}
		return a.newController(id, requester), nil
	}, a.metrics, logging.Module("session"))
	defer store.Close()

	h := handlers.NewHandler(a.classifier, store, s.Preview.MaxSide, logging.Module("http"))
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           h.Routes(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", srv.Addr, "permission", policy)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func classifyCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify [image]",
		Short: "Classify an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctrl := a.newController("cli", permission.Static{Grant: false})
			defer ctrl.Close()

			out, err := ctrl.SelectFromGallery(cmd.Context(), acquire.FileChooser{Path: args[0]})
			if err != nil {
				return err
			}
			if !out.Acquired() {
				return fmt.Errorf("%s: %s", args[0], out.Status)
			}
			return classifyAndPrint(cmd.Context(), cmd.OutOrStdout(), ctrl, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func captureCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a photo with the configured camera command and classify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			requester, err := cliRequester(a.settings.Camera.Permission, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctrl := a.newController("cli", requester)
			defer ctrl.Close()

			facility := acquire.CommandCamera{
				Command: a.settings.Camera.Command,
				Log:     logging.Module("camera"),
			}
			out, err := ctrl.CapturePhoto(cmd.Context(), facility)
			if err != nil {
				return err
			}
			switch out.Status {
			case acquire.StatusAcquired:
			case acquire.StatusRefused:
				return errors.New("camera permission denied")
			case acquire.StatusFailed:
				return errors.New("camera capture failed")
			default:
				fmt.Fprintln(cmd.ErrOrStderr(), "capture cancelled")
				return nil
			}
			return classifyAndPrint(cmd.Context(), cmd.OutOrStdout(), ctrl, asJSON)
		},
	}
	cmd.Flags().String("permission", "", "camera permission policy: grant, deny or prompt")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// cliRequester asks on the terminal unless the policy is static. Manual
// answers only make sense over HTTP, so they are prompted for here.
func cliRequester(policy string, in io.Reader, out io.Writer) (permission.Requester, error) {
	p, err := permission.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	switch p {
	case permission.PolicyPrompt, permission.PolicyManual:
		return permission.NewPrompt(in, out), nil
	default:
		return permission.NewRequester(p)
	}
}

func classifyAndPrint(ctx context.Context, w io.Writer, ctrl *session.Controller, asJSON bool) error {
	result, err := ctrl.Classify(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(w, result)
	return nil
}

func printResult(w io.Writer, r *classifier.Result) {
	fmt.Fprintf(w, "%s\n", r.Label)
	for _, p := range r.Predictions {
		fmt.Fprintf(w, "  %5d  %-32s %.4f\n", p.Index, p.Label, p.Score)
	}
	fmt.Fprintf(w, "inference took %s\n", r.Duration.Round(time.Millisecond))
}
