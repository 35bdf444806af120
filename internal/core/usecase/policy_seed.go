package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
)

// PolicySeeder stores standalone policy documents outside a batch run: from
// a file on disk, or the built-in default when the store has no policy yet.
type PolicySeeder struct {
	store     ports.ContentStore
	source    ports.FileSource
	extractor ports.TextExtractor
	embedder  ports.Embedder
	logger    *slog.Logger
}

func NewPolicySeeder(
	store ports.ContentStore,
	source ports.FileSource,
	extractor ports.TextExtractor,
	embedder ports.Embedder,
	logger *slog.Logger,
) *PolicySeeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicySeeder{
		store:     store,
		source:    source,
		extractor: extractor,
		embedder:  embedder,
		logger:    logger,
	}
}

// SeedFromFile reads, extracts and stores one policy file. Identical
// content is detected by hash and not stored twice; the stored document id
// is returned either way.
func (s *PolicySeeder) SeedFromFile(ctx context.Context, path string) (string, error) {
	data, err := s.source.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	hash := contentHash(data)

	existing, err := s.store.FindByHash(ctx, hash, domain.DocTypePolicy)
	if err != nil {
		return "", fmt.Errorf("policy dedup lookup: %w", err)
	}
	if existing != nil {
		s.logger.Info("policy already stored", "id", existing.ID)
		return existing.ID, nil
	}

	text, err := s.extractor.Extract(ctx, filepath.Base(path), data)
	if err != nil {
		return "", fmt.Errorf("extract policy text: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return s.storePolicy(ctx, domain.PolicyDocument{
		ContentHash:  hash,
		PolicyName:   name,
		Organization: "Company",
		RawText:      text,
		StoredAt:     time.Now().UTC(),
	})
}

// EnsureDefaultPolicy stores the built-in reimbursement policy when no copy
// of it exists yet, so the chat surface has policy context before the first
// batch upload.
func (s *PolicySeeder) EnsureDefaultPolicy(ctx context.Context) error {
	hash := contentHash([]byte(defaultPolicyText))

	existing, err := s.store.FindByHash(ctx, hash, domain.DocTypePolicy)
	if err != nil {
		return fmt.Errorf("default policy lookup: %w", err)
	}
	if existing != nil {
		return nil
	}

	id, err := s.storePolicy(ctx, domain.PolicyDocument{
		ContentHash:  hash,
		PolicyName:   "HR_Reimbursement_Policy_Default",
		Organization: "Company",
		RawText:      defaultPolicyText,
		StoredAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.logger.Info("stored default reimbursement policy", "id", id)
	return nil
}

func (s *PolicySeeder) storePolicy(ctx context.Context, policy domain.PolicyDocument) (string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{policy.RawText})
	if err != nil {
		return "", fmt.Errorf("embed policy: %w", err)
	}
	if len(vectors) != 1 {
		return "", fmt.Errorf("embed policy: expected 1 vector, got %d", len(vectors))
	}

	doc := domain.StoredDocument{
		ID:      uuid.NewString(),
		Content: policy.RawText,
		Metadata: map[string]string{
			"doc_type":     domain.DocTypePolicy,
			"file_hash":    policy.ContentHash,
			"policy_name":  policy.PolicyName,
			"organization": policy.Organization,
			"date":         policy.StoredAt.Format(time.RFC3339),
		},
	}
	if err := s.store.Put(ctx, doc, vectors[0]); err != nil {
		return "", fmt.Errorf("store policy: %w", err)
	}
	return doc.ID, nil
}

const defaultPolicyText = `HR REIMBURSEMENT POLICY

1. ELIGIBLE EXPENSES
   - Business travel expenses (flights, accommodation, meals)
   - Transportation costs (taxi, uber, public transport)
   - Office supplies and equipment
   - Client entertainment (within limits)
   - Professional development and training
   - Communication expenses (phone, internet for business use)

2. NON-REIMBURSABLE EXPENSES
   - Alcoholic beverages (except for approved client entertainment)
   - Personal expenses
   - Fines and penalties
   - Entertainment for personal purposes
   - Luxury items beyond business necessity

3. SPENDING LIMITS
   - Meals: $50 per day for domestic travel, $75 per day for international
   - Accommodation: Up to $200 per night domestic, $300 per night international
   - Transportation: Economy class for flights, reasonable taxi/uber costs
   - Office supplies: Up to $500 per month per employee

4. DOCUMENTATION REQUIREMENTS
   - Original receipts required for all expenses over $25
   - Business purpose must be clearly stated
   - All expenses must be submitted within 30 days
   - Manager approval required for expenses over $500

5. APPROVAL PROCESS
   - Expenses under $100: Automatic approval with valid receipt
   - Expenses $100-$500: Manager approval required
   - Expenses over $500: Senior management approval required
   - All international travel: Pre-approval required

6. PAYMENT PROCESSING
   - Approved reimbursements processed within 5-7 business days
   - Direct deposit to employee's registered bank account
   - Rejected expenses will be returned with explanation

7. POLICY VIOLATIONS
   - First violation: Warning and training
   - Repeated violations: Progressive disciplinary action
   - Fraudulent claims: Immediate termination and legal action`
