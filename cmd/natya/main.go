package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/natya/internal/app"
	"github.com/ayusman/natya/internal/config"
	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/reference"
	"github.com/ayusman/natya/internal/store"
	"github.com/ayusman/natya/internal/tray"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (default: "+config.DefaultConfigPath+" when present)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory holding the database (overrides config)")
	buildVideo := flag.String("build-reference", "", "build a reference from expert video takes (comma separated) instead of serving")
	song := flag.String("song", "", "song title for -build-reference")
	withTray := flag.Bool("tray", false, "show a system tray menu")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = addr
	}
	if *dataDir != "" {
		cfg.DataDir = dataDir
	}

	if *buildVideo != "" {
		if err := buildReference(cfg, *buildVideo, *song); err != nil {
			log.Fatalf("Failed to build reference: %v", err)
		}
		return
	}

	if err := serve(cfg, *withTray); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig reads the given file, or the defaults file when it exists.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.Load(path)
}

func serve(cfg *config.Config, withTray bool) error {
	fmt.Println("Natya - Dance Pose Practice")

	dbDir := cfg.GetDataDir()
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(filepath.Join(dbDir, "natya.db"))
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	webDir := findWebDir(dbDir)
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	appCfg := app.Config{
		Settings:  cfg,
		Store:     st,
		StaticDir: webDir,
	}
	var t *tray.Tray
	if withTray {
		t = tray.New()
		appCfg.OnLiveChange = t.SetLive
		appCfg.OnResult = func(r app.LiveResult) {
			t.SetLastResult(r.Score, string(r.Feedback), r.NoPose)
		}
	}

	a, err := app.New(appCfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := a.Server().HTTPServer(cfg.GetAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if t != nil {
		t.OnOpen(func() { openBrowser("http://" + browseAddr(cfg.GetAddr())) })
		t.OnStop(func() {
			for _, id := range a.LiveSessions() {
				a.StopLive(id)
			}
		})
		t.OnQuit(stop)
		go func() {
			<-ctx.Done()
			srv.Shutdown(context.Background())
			t.Quit()
		}()
		go func() {
			fmt.Printf("Starting server on %s\n", cfg.GetAddr())
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Server failed: %v", err)
				stop()
			}
		}()
		// The tray owns the main thread until Quit.
		t.Run()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", cfg.GetAddr())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildReference samples one or more takes of an expert video (comma
// separated) and writes <song>_ref_pose.json into the reference directory.
// Several takes are averaged per second.
func buildReference(cfg *config.Config, videos, song string) error {
	paths := strings.Split(videos, ",")
	if song == "" {
		song = trimExt(filepath.Base(paths[0]))
	}

	det, err := detector.NewMediaPipeDetector(cfg.DetectorSettings())
	if err != nil {
		return err
	}
	defer det.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := reference.NewBuilder(det)
	takes := make([][]reference.Record, 0, len(paths))
	for _, path := range paths {
		records, err := builder.BuildFromVideo(ctx, strings.TrimSpace(path))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("Sampled %d frames from %s\n", len(records), path)
		takes = append(takes, records)
	}

	records := takes[0]
	if len(takes) > 1 {
		if records, err = reference.MergeTakes(takes...); err != nil {
			return err
		}
	}

	loader := reference.NewFileLoader(cfg.GetReferenceDir())
	if err := loader.Save(song, records); err != nil {
		return err
	}
	fmt.Printf("Wrote %d reference frames to %s\n", len(records), loader.Path(song))
	return nil
}

// browseAddr turns a listen address like ":8080" into a browsable host.
func browseAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}
