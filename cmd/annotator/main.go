package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	annotator "github.com/menta2k/avm-annotator"
	"github.com/menta2k/avm-annotator/internal/config"
	"github.com/menta2k/avm-annotator/internal/utils"
	"github.com/menta2k/avm-annotator/pkg/detection"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
	"github.com/menta2k/avm-annotator/pkg/store"
	"github.com/menta2k/avm-annotator/pkg/types"
)

const usage = `usage: %s [-config file] [-v] <command> [args]

commands:
  classify <file.json>...            print the dialect chosen for each path
  inspect  <file.json|dir>...        list the shapes of annotation files
  resave   <file.json|dir>...        rewrite files and refresh their visualizations
  outline  -label L [-mask] <file.json> x,y[,0] ...
                                     add an AI-assisted shape from prompt clicks
  init-config                        write the default configuration file
`

func main() {
	var cfgPath string
	var verbose bool

	flag.StringVar(&cfgPath, "config", config.GetConfigPath(), "configuration file")
	flag.BoolVar(&verbose, "v", false, "log engine activity to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if verbose {
		annotator.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := config.Default()
	if utils.FileExists(cfgPath) {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration %s: %v", cfgPath, err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "classify":
		err = runClassify(args)
	case "inspect":
		err = runInspect(cfg, args)
	case "resave":
		err = runResave(cfg, args)
	case "outline":
		err = runOutline(cfg, args)
	case "init-config":
		err = cfg.SaveToFile(cfgPath)
		if err == nil {
			log.Printf("wrote %s", cfgPath)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func sessionConfig(cfg *config.Config) annotator.Config {
	sc := annotator.DefaultConfig()
	sc.HistoryCapacity = cfg.Editor.HistoryCapacity
	sc.Epsilon = cfg.Editor.Epsilon
	sc.DefaultFlags = cfg.DefaultFlags
	sc.Store.Processing.JPEGQuality = cfg.Output.JPEGQuality
	sc.Store.Processing.WebPLossless = cfg.Output.WebPLossless
	sc.Store.Overlay.RegionSize = cfg.Overlay.RegionSize
	sc.Store.Overlay.MarkerRadius = cfg.Overlay.MarkerRadius
	sc.Store.Overlay.FontSize = cfg.Overlay.FontSize
	return sc
}

// expand replaces directories by the annotation files below them
func expand(args []string) ([]string, error) {
	var files []string
	for _, a := range args {
		if utils.DirExists(a) {
			found, err := utils.ListAnnotationFiles(a)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
			continue
		}
		files = append(files, a)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no annotation files given")
	}
	return files, nil
}

func runClassify(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("classify needs at least one path")
	}
	for _, p := range args {
		fmt.Printf("%s\t%s\n", schema.Classify(p), p)
	}
	return nil
}

func runInspect(cfg *config.Config, args []string) error {
	files, err := expand(args)
	if err != nil {
		return err
	}
	st := store.NewWithConfig(sessionConfig(cfg).Store)
	for _, f := range files {
		doc, err := st.Read(f)
		if err != nil {
			log.Printf("skip: %v", err)
			continue
		}
		fmt.Printf("%s (%s): %d shapes, %d passthrough\n", f, schema.Classify(f), len(doc.Shapes), len(doc.Passthrough))
		for i, s := range doc.Shapes {
			r := s.BoundingRect()
			fmt.Printf("  %3d %-20s %-9s %2d pts  [%.1f,%.1f %.1fx%.1f]  %s\n",
				i, s.Label, s.ShapeType, len(s.Points), r.Min.X, r.Min.Y, r.Width(), r.Height(), s.Description)
		}
	}
	return nil
}

func runResave(cfg *config.Config, args []string) error {
	files, err := expand(args)
	if err != nil {
		return err
	}
	failed := 0
	for _, f := range files {
		s := annotator.New(sessionConfig(cfg))
		if err := s.Open(f, annotator.OpenOptions{}); err != nil {
			log.Printf("open failed: %v", err)
			failed++
			continue
		}
		if err := s.Save(""); err != nil {
			log.Printf("save failed: %v", err)
			failed++
			continue
		}
		log.Printf("resaved %s (%d shapes)", f, len(s.Shapes()))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func runOutline(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("outline", flag.ExitOnError)
	label := fs.String("label", "", "label of the new shape")
	mask := fs.Bool("mask", false, "create a mask instead of a polygon")
	timeout := fs.Duration("timeout", 5*time.Minute, "model request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *label == "" || fs.NArg() < 2 {
		return fmt.Errorf("outline needs -label, a file and at least one x,y click")
	}

	vc, err := detection.NewClient(types.ModelConfig{
		Backend: cfg.Model.Backend,
		URL:     cfg.Model.URL,
		Model:   cfg.Model.Name,
		MaxDim:  cfg.Model.MaxDim,
	})
	if err != nil {
		return err
	}

	s := annotator.New(sessionConfig(cfg))
	s.SetPredictor(detection.NewPredictor(vc, cfg.Model.Name, cfg.Model.MaxDim))
	if err := s.Open(fs.Arg(0), annotator.OpenOptions{KeepPrevious: cfg.Editor.KeepPrevious}); err != nil {
		return err
	}

	mode := annotator.ModeAIPolygon
	if *mask {
		mode = annotator.ModeAIMask
	}
	if err := s.Begin(mode, *label); err != nil {
		return err
	}
	for _, arg := range fs.Args()[1:] {
		p, fg, err := parseClick(arg)
		if err != nil {
			return err
		}
		if err := s.AddPoint(p, fg); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := s.Finalize(ctx); err != nil {
		return err
	}
	added := s.Shapes()[len(s.Shapes())-1]
	log.Printf("added %s %q with %d points", added.ShapeType, added.Label, len(added.Points))

	return s.Save("")
}

// parseClick reads "x,y" or "x,y,label" where label 0 marks background
func parseClick(arg string) (geometry.Point, int, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return geometry.Point{}, 0, fmt.Errorf("bad click %q, want x,y or x,y,label", arg)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return geometry.Point{}, 0, fmt.Errorf("bad click %q: %w", arg, err)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return geometry.Point{}, 0, fmt.Errorf("bad click %q: %w", arg, err)
	}
	label := shape.Foreground
	if len(parts) == 3 {
		if label, err = strconv.Atoi(parts[2]); err != nil || (label != shape.Foreground && label != shape.Background) {
			return geometry.Point{}, 0, fmt.Errorf("bad click %q: label must be 0 or 1", arg)
		}
	}
	return geometry.Pt(x, y), label, nil
}
