// Package config holds the explicit process configuration.
//
// The effective config is built in one pass at startup: documented
// defaults, then an optional YAML file, then environment overrides,
// then validation. Components receive their section as a plain struct;
// no package below cmd reads the environment.
//
//	cfg, err := config.Load(path) // path may be ""
//	src, err := source.New(source.Config{Agent: cfg.Source.Agent, DBPath: cfg.Source.DBPath})
//
// GOCONVO_* variables override file values. The standard provider key
// variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, JINA_API_KEY) only fill
// API keys that are still empty, so an explicit setting always wins.
package config
