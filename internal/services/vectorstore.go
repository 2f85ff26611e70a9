package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/openai"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/types"
)

// TooLargeError reports a file over the provider's per-file ceiling. It is a
// permanent failure: retrying cannot shrink the file.
type TooLargeError struct {
	Size int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file of %d bytes exceeds the %d byte provider limit", e.Size, openai.MaxFileBytes)
}

// KnowledgeBaseFileRef is the provider-side reference produced by an upload.
// Exactly one attachment shape is populated: the vector store file when the
// account supports vector stores, the thread message otherwise.
type KnowledgeBaseFileRef struct {
	ProviderFileID    string
	VectorStoreFileID string
	ThreadID          string
	ThreadMessageID   string
}

// ExternalRef is the single id persisted on the file record. Its presence
// marks the record as ingested regardless of which attachment shape was used.
func (r *KnowledgeBaseFileRef) ExternalRef() string {
	if r.VectorStoreFileID != "" {
		return r.VectorStoreFileID
	}
	return r.ProviderFileID
}

type VectorStoreService interface {
	EnsureKnowledgeBase(ctx context.Context, tx *gorm.DB, company *types.Company) (string, error)
	UploadFileToKnowledgeBase(ctx context.Context, tx *gorm.DB, company *types.Company, filename string, size int64, body io.Reader) (*KnowledgeBaseFileRef, error)
}

type vectorStoreService struct {
	log         *logger.Logger
	client      openai.Client
	companyRepo repos.CompanyRepo
}

func NewVectorStoreService(baseLog *logger.Logger, client openai.Client, companyRepo repos.CompanyRepo) VectorStoreService {
	return &vectorStoreService{
		log:         baseLog.With("service", "VectorStoreService"),
		client:      client,
		companyRepo: companyRepo,
	}
}

// EnsureKnowledgeBase returns the company's vector store id, creating one
// lazily on first use. Concurrent callers race on the claim: the loser deletes
// its orphan store and adopts the winner's id.
func (s *vectorStoreService) EnsureKnowledgeBase(ctx context.Context, tx *gorm.DB, company *types.Company) (string, error) {
	if company == nil {
		return "", fmt.Errorf("company required")
	}
	if company.VectorStoreID != nil && *company.VectorStoreID != "" {
		return *company.VectorStoreID, nil
	}

	name := fmt.Sprintf("kb-%s", company.ID)
	vectorStoreID, err := s.client.CreateVectorStore(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create vector store for company %s: %w", company.ID, err)
	}

	won, err := s.companyRepo.ClaimVectorStore(ctx, tx, company.ID, vectorStoreID)
	if err != nil {
		return "", fmt.Errorf("claim vector store for company %s: %w", company.ID, err)
	}
	if won {
		company.VectorStoreID = &vectorStoreID
		s.log.Info("Created knowledge base", "company_id", company.ID.String(), "vector_store_id", vectorStoreID)
		s.ensureAssistant(ctx, tx, company, vectorStoreID)
		return vectorStoreID, nil
	}

	// Lost the race: another worker claimed first. Drop the orphan and use
	// the winner's store.
	if delErr := s.client.DeleteVectorStore(ctx, vectorStoreID); delErr != nil {
		s.log.Warn("Failed to delete orphan vector store", "vector_store_id", vectorStoreID, "error", delErr.Error())
	}

	fresh, err := s.companyRepo.GetByID(ctx, tx, company.ID)
	if err != nil {
		return "", fmt.Errorf("reload company %s after lost claim: %w", company.ID, err)
	}
	if fresh.VectorStoreID == nil || *fresh.VectorStoreID == "" {
		return "", fmt.Errorf("company %s has no vector store after lost claim", company.ID)
	}
	company.VectorStoreID = fresh.VectorStoreID
	return *fresh.VectorStoreID, nil
}

// ensureAssistant provisions the company's assistant bound to its vector
// store. Best effort: the ingestion itself does not depend on the assistant,
// so failures are logged and the next knowledge-base winner retries.
func (s *vectorStoreService) ensureAssistant(ctx context.Context, tx *gorm.DB, company *types.Company, vectorStoreID string) {
	if company.AssistantID != nil && *company.AssistantID != "" {
		return
	}
	name := fmt.Sprintf("assistant-%s", company.ID)
	instructions := "Answer using the documents attached to this company's knowledge base."
	assistantID, err := s.client.CreateAssistant(ctx, name, instructions, vectorStoreID)
	if err != nil {
		s.log.Warn("Failed to create assistant", "company_id", company.ID.String(), "error", err.Error())
		return
	}
	if err := s.companyRepo.SetAssistant(ctx, tx, company.ID, assistantID); err != nil {
		s.log.Warn("Failed to persist assistant id", "company_id", company.ID.String(), "assistant_id", assistantID, "error", err.Error())
		return
	}
	company.AssistantID = &assistantID
}

func (s *vectorStoreService) UploadFileToKnowledgeBase(ctx context.Context, tx *gorm.DB, company *types.Company, filename string, size int64, body io.Reader) (*KnowledgeBaseFileRef, error) {
	if size > openai.MaxFileBytes {
		return nil, &TooLargeError{Size: size}
	}

	fallback := false
	vectorStoreID, err := s.EnsureKnowledgeBase(ctx, tx, company)
	if err != nil {
		if !providerUnsupported(err) {
			// A tenant without a knowledge base cannot ingest anything, no
			// matter how often the queue retries: treat it as a configuration
			// problem and fail for good.
			return nil, permanent(fmt.Sprintf("knowledge base unavailable for company %s", company.ID), err)
		}
		fallback = true
	}

	providerFileID, err := s.client.UploadFile(ctx, filename, body)
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", filename, err)
	}

	if !fallback {
		vectorStoreFileID, err := s.client.AttachFileToVectorStore(ctx, vectorStoreID, providerFileID)
		if err == nil {
			return &KnowledgeBaseFileRef{
				ProviderFileID:    providerFileID,
				VectorStoreFileID: vectorStoreFileID,
			}, nil
		}
		if !providerUnsupported(err) {
			return nil, fmt.Errorf("attach %q to vector store %s: %w", filename, vectorStoreID, err)
		}
		fallback = true
	}

	// Accounts without vector store access still get the file: attach it to
	// a fresh thread so it is searchable in conversation.
	s.log.Warn("Vector stores unsupported for account, falling back to thread attachment", "company_id", company.ID.String())
	threadID, err := s.client.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create fallback thread: %w", err)
	}
	messageID, err := s.client.AttachFileToThread(ctx, threadID, providerFileID, filename)
	if err != nil {
		return nil, fmt.Errorf("attach %q to thread %s: %w", filename, threadID, err)
	}
	return &KnowledgeBaseFileRef{
		ProviderFileID:  providerFileID,
		ThreadID:        threadID,
		ThreadMessageID: messageID,
	}, nil
}

// providerUnsupported reports whether the error means the account cannot use
// vector stores at all, as opposed to a transient or unrelated failure.
func providerUnsupported(err error) bool {
	var pe *openai.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == openai.KindUnsupported || pe.Kind == openai.KindBadRequest
}
