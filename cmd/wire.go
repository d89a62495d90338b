package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"codes-bot/internal/config"
	"codes-bot/internal/integrations/paramstore"
	"codes-bot/internal/lookup"
	"codes-bot/internal/repository"
	"codes-bot/internal/spreadsheet"
)

// awsLoader loads the shared AWS config once, on first use.
type awsLoader struct {
	cfg    *aws.Config
	loaded bool
	err    error
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	if !l.loaded {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		l.cfg, l.err, l.loaded = &cfg, err, true
	}
	if l.err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", l.err)
	}
	return *l.cfg, nil
}

// writableSource is a reference source that can also be seeded.
type writableSource interface {
	lookup.Source
	Put(ctx context.Context, entries []lookup.Entry) error
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildSource returns the configured reference source and a closer for any
// handle it opened.
func buildSource(ctx context.Context, ref config.Reference, loader *awsLoader) (lookup.Source, io.Closer, error) {
	switch ref.Source {
	case config.SourceFile:
		book, err := spreadsheet.NewReferenceBook(ref.BookPath)
		if err != nil {
			return nil, nil, err
		}
		return book, nopCloser{}, nil
	case config.SourceDynamoDB, config.SourceSQLite:
		return buildWritableSource(ctx, ref, loader)
	default:
		return nil, nil, fmt.Errorf("unknown reference source %q", ref.Source)
	}
}

func buildWritableSource(ctx context.Context, ref config.Reference, loader *awsLoader) (writableSource, io.Closer, error) {
	switch ref.Source {
	case config.SourceDynamoDB:
		cfg, err := loader.load(ctx)
		if err != nil {
			return nil, nil, err
		}
		src, err := repository.NewDynamoSource(awsdynamodb.NewFromConfig(cfg), ref.Table, ref.KeyField, ref.ValueField)
		if err != nil {
			return nil, nil, err
		}
		return src, nopCloser{}, nil
	case config.SourceSQLite:
		db, err := repository.OpenSQLite(ctx, ref.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		src, err := repository.NewSQLiteSource(db, ref.Table, ref.KeyField, ref.ValueField)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return src, db, nil
	default:
		return nil, nil, fmt.Errorf("reference source %q cannot be written to", ref.Source)
	}
}

// botToken returns the configured token, reading it from Parameter Store
// when a parameter name is set.
func botToken(ctx context.Context, cfg config.Config, loader *awsLoader, logger *slog.Logger) (string, error) {
	if cfg.BotTokenParameter == "" {
		return cfg.BotToken, nil
	}
	awsCfg, err := loader.load(ctx)
	if err != nil {
		return "", err
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return "", err
	}
	token, err := paramstore.BotToken(ctx, ps, cfg.BotTokenParameter)
	if err != nil {
		return "", err
	}
	logger.Info("bot token loaded from parameter store", "parameter", cfg.BotTokenParameter)
	return token, nil
}
