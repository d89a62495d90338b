package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"codes-bot/internal/domain"
	"codes-bot/internal/spreadsheet"
	"codes-bot/internal/tempfiles"
)

const (
	UsageText = "Codes bot.\n\n" +
		"Send Excel files (.xlsx or .xls), several in a row if you like. " +
		"The article is taken from the file name, codes from column B.\n" +
		"A summary follows a few seconds after the last file."
	UnsupportedFileText = "Only .xlsx and .xls files are supported"
)

var supportedExtensions = map[string]bool{".xlsx": true, ".xls": true}

type Bot interface {
	FetchFile(ctx context.Context, fileID, dst string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
	ReplyMessage(ctx context.Context, chatID, messageID int64, text string) error
	SendDocument(ctx context.Context, chatID, messageID int64, path, filename, caption string) error
}

type Transformer interface {
	Transform(inputPath, filename string, resolver spreadsheet.Resolver, outputPath string) (spreadsheet.Result, error)
}

type OutcomeRecorder interface {
	RecordOutcome(userID, chatID int64, o domain.Outcome)
}

type PathAllocator interface {
	InputPath(userID int64, filename string) string
	OutputPath(article string) string
}

type ProcessService struct {
	bot         Bot
	resolver    spreadsheet.Resolver
	transformer Transformer
	recorder    OutcomeRecorder
	paths       PathAllocator
	logger      *slog.Logger
}

type DocumentInput struct {
	UserID    int64
	ChatID    int64
	MessageID int64
	FileID    string
	FileName  string
}

type DocumentOutput struct {
	Key   string
	Codes int
}

func NewProcessService(bot Bot, resolver spreadsheet.Resolver, transformer Transformer, recorder OutcomeRecorder, paths PathAllocator, logger *slog.Logger) (*ProcessService, error) {
	if bot == nil {
		return nil, errors.New("usecase: bot must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if transformer == nil {
		return nil, errors.New("usecase: transformer must not be nil")
	}
	if recorder == nil {
		return nil, errors.New("usecase: recorder must not be nil")
	}
	if paths == nil {
		return nil, errors.New("usecase: path allocator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessService{
		bot:         bot,
		resolver:    resolver,
		transformer: transformer,
		recorder:    recorder,
		paths:       paths,
		logger:      logger,
	}, nil
}

// HandleStart answers /start with the usage text.
func (s *ProcessService) HandleStart(ctx context.Context, chatID int64) error {
	if err := s.bot.SendMessage(ctx, chatID, UsageText); err != nil {
		return newError(ErrorUpstream, "send_usage_failed", err)
	}
	return nil
}

// HandleDocument converts one uploaded workbook and replies with the result
// or the reason it failed. Every accepted file is recorded exactly once.
func (s *ProcessService) HandleDocument(ctx context.Context, in DocumentInput) (DocumentOutput, error) {
	name := strings.TrimSpace(in.FileName)
	if !IsSupportedFile(name) {
		if err := s.bot.ReplyMessage(ctx, in.ChatID, in.MessageID, UnsupportedFileText); err != nil {
			s.logger.Warn("unsupported file reply failed", "user_id", in.UserID, "err", err)
		}
		return DocumentOutput{}, newError(ErrorInvalidInput, "unsupported_extension", nil)
	}
	if strings.TrimSpace(in.FileID) == "" {
		return DocumentOutput{}, newError(ErrorInvalidInput, "missing_file_id", nil)
	}

	s.logger.Info("file received", "user_id", in.UserID, "file", name)
	outcome := domain.Outcome{
		Filename:     name,
		InputPath:    s.paths.InputPath(in.UserID, name),
		ArtifactPath: s.paths.OutputPath(spreadsheet.ExtractArticle(name)),
	}

	if err := s.bot.FetchFile(ctx, in.FileID, outcome.InputPath); err != nil {
		return DocumentOutput{}, s.fail(ctx, in, outcome, "Could not download the file", newError(ErrorUpstream, "download_failed", err))
	}

	res, err := s.transformer.Transform(outcome.InputPath, name, s.resolver, outcome.ArtifactPath)
	if err != nil {
		code, reason, message := classify(err, name)
		return DocumentOutput{}, s.fail(ctx, in, outcome, message, newError(code, reason, err))
	}
	outcome.ResolvedKey = res.Key

	caption := fmt.Sprintf("✅ %s\nArticle: %s", name, res.Key)
	if err := s.bot.SendDocument(ctx, in.ChatID, in.MessageID, res.OutputPath, tempfiles.ResultName(res.Key), caption); err != nil {
		return DocumentOutput{}, s.fail(ctx, in, outcome, "Could not send the result", newError(ErrorUpstream, "send_result_failed", err))
	}

	outcome.Success = true
	s.recorder.RecordOutcome(in.UserID, in.ChatID, outcome)
	s.logger.Info("file processed", "user_id", in.UserID, "file", name, "article", res.Key, "codes", res.Codes)
	return DocumentOutput{Key: res.Key, Codes: res.Codes}, nil
}

// IsSupportedFile reports whether name has an accepted spreadsheet extension.
func IsSupportedFile(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

func (s *ProcessService) fail(ctx context.Context, in DocumentInput, outcome domain.Outcome, message string, ucErr *Error) error {
	s.logger.Error("file processing failed", "user_id", in.UserID, "file", outcome.Filename, "code", ucErr.Code, "err", ucErr.Err)

	if err := s.bot.ReplyMessage(ctx, in.ChatID, in.MessageID, fmt.Sprintf("❌ %s\n%s", outcome.Filename, message)); err != nil {
		s.logger.Warn("failure reply failed", "user_id", in.UserID, "file", outcome.Filename, "err", err)
	}

	outcome.Success = false
	outcome.ErrorMessage = message
	s.recorder.RecordOutcome(in.UserID, in.ChatID, outcome)
	return ucErr
}

func classify(err error, filename string) (ErrorCode, string, string) {
	article := spreadsheet.ExtractArticle(filename)
	switch {
	case errors.Is(err, spreadsheet.ErrKeyNotFound):
		return ErrorKeyNotFound, "article_not_found", fmt.Sprintf("Article %s not found in the reference book", article)
	case errors.Is(err, spreadsheet.ErrNoDataRows):
		return ErrorNoDataRows, "no_codes", "No codes found in column B"
	case errors.Is(err, spreadsheet.ErrMalformedInput) && article == "":
		return ErrorMalformedInput, "no_article", "Could not read the article from the file name"
	case errors.Is(err, spreadsheet.ErrMalformedInput):
		return ErrorMalformedInput, "unreadable_workbook", "Could not read the file as an .xlsx workbook"
	default:
		return ErrorInternal, "transform_failed", "Internal error while building the result"
	}
}
