// Command arbor grows a single tree without a server and exports the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arbor/internal/config"
	"arbor/internal/meshio"
	"arbor/internal/preview"
	"arbor/internal/simulation"
)

func main() {
	var (
		cfgPath     string
		outPath     string
		skeleton    string
		previewPath string
		maxSteps    int
	)
	flag.StringVar(&cfgPath, "config", "", "path to configuration file (defaults when empty)")
	flag.StringVar(&outPath, "out", "", "write the grown point cloud as OBJ")
	flag.StringVar(&skeleton, "skeleton", "", "write the branch skeleton as OBJ line elements")
	flag.StringVar(&previewPath, "preview", "", "write a PNG preview")
	flag.IntVar(&maxSteps, "max-steps", -1, "stop after this many growth steps (0 runs to completion, -1 uses the config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if maxSteps < 0 {
		maxSteps = cfg.Export.MaxSteps
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := log.New(log.Writer(), "arbor ", log.LstdFlags|log.Lmicroseconds)
	sess, err := simulation.New(cfg, logger)
	if err != nil {
		log.Fatalf("initialise tree: %v", err)
	}

	frame, err := sess.Run(ctx, maxSteps, nil)
	if err != nil {
		log.Printf("growth interrupted: %v", err)
	}
	logger.Printf("step %d: %d vertices, %d leaves left, done=%t",
		frame.Iteration, frame.Mesh.VertexCount, frame.Stats.Leaves, frame.Stats.DoneGrowing)

	if outPath != "" {
		if err := writeFile(outPath, func(w io.Writer) error { return meshio.WriteOBJ(w, frame.Mesh) }); err != nil {
			log.Fatalf("write mesh: %v", err)
		}
		logger.Printf("mesh written to %s", outPath)
	}
	if skeleton != "" {
		if err := writeFile(skeleton, func(w io.Writer) error { return meshio.WriteSegmentsOBJ(w, frame.Segments) }); err != nil {
			log.Fatalf("write skeleton: %v", err)
		}
		logger.Printf("skeleton written to %s", skeleton)
	}
	if previewPath != "" {
		if err := preview.Save(previewPath, preview.SceneFor(frame, cfg.Preview)); err != nil {
			log.Fatalf("write preview: %v", err)
		}
		logger.Printf("preview written to %s", previewPath)
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
