// Command preprocess converts a raw LiDAR dataset into the processed
// range-image .npy layout. The spherical projection itself is supplied
// by the embedding application via preprocess.DefaultProjector; without
// one the command reports the missing collaborator and exits non-zero.
//
// Usage:
//
//	preprocess --dataset kitti --dataset_path /data/kitti/dataset --processed_path /data/kitti/processed
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/rangecast/rangecast/config"
	"github.com/rangecast/rangecast/preprocess"
)

func main() {
	dataset := flag.String("dataset", "kitti", "name of dataset: kitti or nuscenes")
	datasetPath := flag.String("dataset_path", "", "path to the raw dataset")
	processedPath := flag.String("processed_path", "", "path to save the processed dataset to")
	configPath := flag.String("config", "", "parameter file (defaults to the per-dataset file under config/)")
	flag.Parse()

	path := *configPath
	if path == "" {
		switch *dataset {
		case "kitti":
			path = config.DefaultKITTIConfigPath
		case "nuscenes":
			path = config.DefaultNuScenesConfigPath
		default:
			log.Fatalf("unknown dataset %q (want kitti or nuscenes)", *dataset)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *datasetPath != "" {
		cfg.DataConfig.RawDatasetPath = *datasetPath
	}
	if *processedPath != "" {
		cfg.DataConfig.ProcessedPath = *processedPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch *dataset {
	case "kitti":
		err = preprocess.PrepareKITTI(ctx, cfg, preprocess.DefaultProjector)
	case "nuscenes":
		err = preprocess.PrepareNuScenes(ctx, cfg, preprocess.DefaultProjector)
	default:
		log.Fatalf("unknown dataset %q (want kitti or nuscenes)", *dataset)
	}
	if err != nil {
		log.Fatalf("prepare %s: %v", *dataset, err)
	}
}
