package badgecli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/phillip-england/badgephoto/internal/apiapp"
	"github.com/phillip-england/badgephoto/internal/clientapp"
	"github.com/phillip-england/badgephoto/internal/envutil"
	"github.com/phillip-england/badgephoto/internal/logging"
	"github.com/phillip-england/badgephoto/internal/matte"
)

var ErrUsage = errors.New("usage")

func Execute(args []string) error {
	return execute(args, os.Stdout)
}

func execute(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return runSetup(args[1:], stdout)
	case "run":
		return runCommand(args[1:])
	case "thumb":
		return runThumb(args[1:], stdout)
	case "batch":
		return runBatch(args[1:], stdout)
	case "help", "-h", "--help":
		PrintUsage(stdout)
		return nil
	default:
		return usageError()
	}
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: badgephoto setup [--env-file .env] [--force]")
	fmt.Fprintln(w, "       badgephoto run api|client|all")
	fmt.Fprintln(w, "       badgephoto thumb <image> [--out thumb.png]")
	fmt.Fprintln(w, "       badgephoto batch --roster roster.xlsx --photos dir [--out badges.tar.xz]")
}

func usageError() error {
	return fmt.Errorf("%w: badgephoto <setup|run|thumb|batch> [...]", ErrUsage)
}

func runSetup(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	envPath := fs.String("env-file", ".env", "path to .env file")
	force := fs.Bool("force", false, "overwrite existing env file")
	dbPath := fs.String("db", "data/badges.db", "badge database path")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: setup takes no positional arguments", ErrUsage)
	}

	values := map[string]string{
		"API_ADDR":            ":8080",
		"CLIENT_ADDR":         ":3000",
		"API_BASE_URL":        "http://localhost:8080",
		"API_ALLOWED_ORIGINS": "http://localhost:3000",
		"BADGE_DB_PATH":       *dbPath,
		"MAX_UPLOAD_BYTES":    strconv.Itoa(matte.MaxSourceBytes),
		"LOG_LEVEL":           "info",
		"LOG_FORMAT":          "text",
	}

	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *envPath)
	return nil
}

func runCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: missing run target: api | client | all", ErrUsage)
	}

	if err := envutil.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "api":
		return runAPI(ctx)
	case "client":
		return runClient(ctx)
	case "all":
		return runAll(ctx)
	default:
		return fmt.Errorf("%w: unknown run target %q", ErrUsage, args[0])
	}
}

func runAPI(ctx context.Context) error {
	cfg := apiapp.DefaultConfigFromEnv()
	cfg.Logger = logging.FromEnv()
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	if err := apiapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runClient(ctx context.Context) error {
	cfg := clientapp.DefaultConfigFromEnv()
	cfg.Logger = logging.FromEnv()
	if err := clientapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAll(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() { errCh <- runAPI(ctx) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runClient(ctx)
	}()

	for i := 0; i < 2; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// runThumb processes one image file. Without --out the data URI is printed.
func runThumb(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("thumb", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "write the thumbnail png to this path")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: thumb <image> [--out thumb.png]", ErrUsage)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := matte.ProcessReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}

	if *out == "" {
		_, err := fmt.Fprintln(stdout, result.DataURI)
		return err
	}
	if err := ensureParentDirs(*out); err != nil {
		return err
	}
	if err := os.WriteFile(*out, result.PNG, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "wrote %s (%dx%d from %dx%d, %d pixels keyed)\n",
		*out, result.Width, result.Height, result.SourceWidth, result.SourceHeight, result.KeyedPixels)
	return nil
}

// reorderFlags moves flags ahead of positional arguments so that
// "thumb photo.jpg --out x.png" parses the same as "thumb --out x.png photo.jpg".
func reorderFlags(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, arg)
	}
	return append(flags, positional...)
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
