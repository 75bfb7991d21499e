package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Deployment == "" {
		cfg.Deployment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = "recommendation-index"
	}
	if cfg.Index.Dimensions == 0 {
		cfg.Index.Dimensions = 1536
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "cosine"
	}
	if cfg.Index.FilterableFields == nil {
		cfg.Index.FilterableFields = []string{"source", "category"}
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./.cache"
	}
	if cfg.Cache.ResultBackend == "" {
		cfg.Cache.ResultBackend = "auto"
	}
	if cfg.Cache.ResultCapacity == 0 {
		cfg.Cache.ResultCapacity = 1024
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "nutrirag:results"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 600
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 100
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 10
	}
	if cfg.Ingest.URLColumn == "" {
		cfg.Ingest.URLColumn = "urls"
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 5
	}
	if cfg.Interview.ChatModel == "" {
		cfg.Interview.ChatModel = "gpt-4o"
	}
	if cfg.Interview.MaxAnalysts == 0 {
		cfg.Interview.MaxAnalysts = 1
	}
	if cfg.Interview.MaxTurns == 0 {
		cfg.Interview.MaxTurns = 1
	}
	if cfg.Interview.TopK == 0 {
		cfg.Interview.TopK = cfg.Retrieval.DefaultTopK
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
}
