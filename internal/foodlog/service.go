// Package foodlog は食事記録の管理機能を提供する。
package foodlog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/repository"
	"github.com/hitoshi/meallog/internal/security"
)

// Analyzer は食事画像の解析機能のインターフェース。
// 実装は外部のAI解析サービスに委譲される。
type Analyzer interface {
	// AnalyzeImage は画像データから食事の推定栄養情報を返す。
	AnalyzeImage(ctx context.Context, imageData []byte) (*AnalysisResult, error)
}

// AnalysisResult は画像解析の結果。
type AnalysisResult struct {
	Name     string
	Calories float64
	ProteinG float64
	FatG     float64
	CarbsG   float64
}

// PlatformClient は外部ヘルスプラットフォームへの書き込みインターフェース。
// アクセストークンは呼び出しごとに渡す（サービス側でトークンを保持しない）。
type PlatformClient interface {
	// PushLog は食事記録を外部プラットフォームへ送信する。
	PushLog(ctx context.Context, accessToken string, log *model.FoodLog) error
}

// TokenProvider は有効なアクセストークンを取得するインターフェース。
type TokenProvider interface {
	EnsureFreshToken(ctx context.Context, userID string) (string, error)
}

// Service は食事記録のCRUDと外部同期のサービス。
type Service struct {
	logRepo   repository.FoodLogRepository
	sanitizer security.NotesSanitizerService
	tokens    TokenProvider
	platform  PlatformClient
}

// NewService はServiceの新しいインスタンスを生成する。
// tokensとplatformは同期機能を使わない場合nilでよい。
func NewService(
	logRepo repository.FoodLogRepository,
	sanitizer security.NotesSanitizerService,
	tokens TokenProvider,
	platform PlatformClient,
) *Service {
	return &Service{
		logRepo:   logRepo,
		sanitizer: sanitizer,
		tokens:    tokens,
		platform:  platform,
	}
}

// CreateInput は食事記録作成の入力。
type CreateInput struct {
	Name     string
	MealType string
	Calories float64
	ProteinG float64
	FatG     float64
	CarbsG   float64
	Notes    string
	EatenAt  time.Time
}

// Create は食事記録を作成する。
// メモ欄はサニタイズしてから保存する。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.FoodLog, error) {
	mealType := model.MealType(input.MealType)
	if !model.ValidMealType(mealType) {
		return nil, model.NewInvalidMealTypeError(input.MealType)
	}

	eatenAt := input.EatenAt
	if eatenAt.IsZero() {
		eatenAt = time.Now()
	}

	now := time.Now()
	log := &model.FoodLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      strings.TrimSpace(input.Name),
		MealType:  mealType,
		Calories:  input.Calories,
		ProteinG:  input.ProteinG,
		FatG:      input.FatG,
		CarbsG:    input.CarbsG,
		Notes:     s.sanitizer.Sanitize(input.Notes),
		EatenAt:   eatenAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.logRepo.Create(ctx, log); err != nil {
		return nil, err
	}

	return log, nil
}

// Get は指定IDの食事記録を返す。
// 他ユーザーの記録は存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
	log, err := s.logRepo.FindByID(ctx, logID)
	if err != nil {
		return nil, err
	}
	if log == nil || log.UserID != userID {
		return nil, model.NewLogNotFoundError(logID)
	}
	return log, nil
}

// ListByDay は指定日の食事記録をeaten_at降順で返す。
// dayはユーザーのローカルタイムゾーンでの日付境界を持つこと。
func (s *Service) ListByDay(ctx context.Context, userID string, day time.Time) ([]*model.FoodLog, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)
	return s.logRepo.ListByUserAndRange(ctx, userID, from, to)
}

// ListByRange は指定期間の食事記録をeaten_at降順で返す。
func (s *Service) ListByRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
	return s.logRepo.ListByUserAndRange(ctx, userID, from, to)
}

// UpdateInput は食事記録更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Name     *string
	MealType *string
	Calories *float64
	ProteinG *float64
	FatG     *float64
	CarbsG   *float64
	Notes    *string
	EatenAt  *time.Time
}

// Update は食事記録を部分更新する。
func (s *Service) Update(ctx context.Context, userID, logID string, input UpdateInput) (*model.FoodLog, error) {
	log, err := s.Get(ctx, userID, logID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		log.Name = strings.TrimSpace(*input.Name)
	}
	if input.MealType != nil {
		mealType := model.MealType(*input.MealType)
		if !model.ValidMealType(mealType) {
			return nil, model.NewInvalidMealTypeError(*input.MealType)
		}
		log.MealType = mealType
	}
	if input.Calories != nil {
		log.Calories = *input.Calories
	}
	if input.ProteinG != nil {
		log.ProteinG = *input.ProteinG
	}
	if input.FatG != nil {
		log.FatG = *input.FatG
	}
	if input.CarbsG != nil {
		log.CarbsG = *input.CarbsG
	}
	if input.Notes != nil {
		log.Notes = s.sanitizer.Sanitize(*input.Notes)
	}
	if input.EatenAt != nil {
		log.EatenAt = *input.EatenAt
	}
	log.UpdatedAt = time.Now()

	if err := s.logRepo.Update(ctx, log); err != nil {
		return nil, err
	}

	return log, nil
}

// Delete は食事記録を削除する。
func (s *Service) Delete(ctx context.Context, userID, logID string) error {
	// 所有権を確認してから削除
	if _, err := s.Get(ctx, userID, logID); err != nil {
		return err
	}
	return s.logRepo.DeleteByID(ctx, logID)
}

// Sync は食事記録を外部ヘルスプラットフォームへ送信し、同期完了を記録する。
// アクセストークンの鮮度確保はTokenProviderに委譲する。
func (s *Service) Sync(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
	log, err := s.Get(ctx, userID, logID)
	if err != nil {
		return nil, err
	}

	// 1. 有効なアクセストークンを取得（必要ならリフレッシュされる）
	accessToken, err := s.tokens.EnsureFreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 2. 外部プラットフォームへ送信
	if err := s.platform.PushLog(ctx, accessToken, log); err != nil {
		return nil, model.NewUpstreamFailureError()
	}

	// 3. 同期完了時刻を記録
	syncedAt := time.Now()
	if err := s.logRepo.MarkSynced(ctx, logID, syncedAt); err != nil {
		return nil, err
	}
	log.SyncedAt = &syncedAt

	return log, nil
}
