package midjourney_api

import (
	"log"
	"sync"

	"recipe_image_bot/entities"
)

type factoryImpl struct {
	mu         sync.Mutex
	outputDir  string
	current    Client
	currentCfg entities.RendererConfig
}

type FactoryConfig struct {
	OutputDir string
}

func NewFactory(cfg FactoryConfig) (ClientFactory, error) {
	return &factoryImpl{outputDir: cfg.OutputDir}, nil
}

func (f *factoryImpl) GetInstance(cfg entities.RendererConfig) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && f.currentCfg == cfg {
		return f.current, nil
	}

	if f.current != nil {
		err := f.current.Close()
		if err != nil {
			log.Printf("Error closing stale renderer client: %v", err)
		}
	}

	client, err := NewClient(Config{RendererConfig: cfg, OutputDir: f.outputDir})
	if err != nil {
		return nil, err
	}

	f.current = client
	f.currentCfg = cfg

	return client, nil
}

func (f *factoryImpl) ResetInstance() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return
	}

	err := f.current.Close()
	if err != nil {
		log.Printf("Error closing renderer client: %v", err)
	}

	f.current = nil
	f.currentCfg = entities.RendererConfig{}
}
