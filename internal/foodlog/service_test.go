package foodlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/security"
)

// --- モック定義 ---

type mockFoodLogRepo struct {
	createFn              func(ctx context.Context, log *model.FoodLog) error
	findByIDFn            func(ctx context.Context, id string) (*model.FoodLog, error)
	listByUserAndRangeFn  func(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error)
	updateFn              func(ctx context.Context, log *model.FoodLog) error
	markSyncedFn          func(ctx context.Context, id string, syncedAt time.Time) error
	deleteByIDFn          func(ctx context.Context, id string) error
}

func (m *mockFoodLogRepo) Create(ctx context.Context, log *model.FoodLog) error {
	if m.createFn != nil {
		return m.createFn(ctx, log)
	}
	return nil
}

func (m *mockFoodLogRepo) FindByID(ctx context.Context, id string) (*model.FoodLog, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockFoodLogRepo) ListByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
	if m.listByUserAndRangeFn != nil {
		return m.listByUserAndRangeFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (m *mockFoodLogRepo) Update(ctx context.Context, log *model.FoodLog) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, log)
	}
	return nil
}

func (m *mockFoodLogRepo) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	if m.markSyncedFn != nil {
		return m.markSyncedFn(ctx, id, syncedAt)
	}
	return nil
}

func (m *mockFoodLogRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockTokenProvider struct {
	ensureFreshTokenFn func(ctx context.Context, userID string) (string, error)
}

func (m *mockTokenProvider) EnsureFreshToken(ctx context.Context, userID string) (string, error) {
	if m.ensureFreshTokenFn != nil {
		return m.ensureFreshTokenFn(ctx, userID)
	}
	return "access-token", nil
}

type mockPlatformClient struct {
	pushLogFn func(ctx context.Context, accessToken string, log *model.FoodLog) error
}

func (m *mockPlatformClient) PushLog(ctx context.Context, accessToken string, log *model.FoodLog) error {
	if m.pushLogFn != nil {
		return m.pushLogFn(ctx, accessToken, log)
	}
	return nil
}

func newTestService(repo *mockFoodLogRepo, tokens TokenProvider, platform PlatformClient) *Service {
	return NewService(repo, security.NewNotesSanitizer(), tokens, platform)
}

func isAPIErrorCode(err error, code string) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// --- Create ---

func TestCreate_ValidInput_SavesLog(t *testing.T) {
	var saved *model.FoodLog
	repo := &mockFoodLogRepo{
		createFn: func(ctx context.Context, log *model.FoodLog) error {
			saved = log
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	eatenAt := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)
	log, err := svc.Create(context.Background(), "user-1", CreateInput{
		Name:     "  鶏むね肉のサラダ  ",
		MealType: "lunch",
		Calories: 350,
		ProteinG: 40,
		EatenAt:  eatenAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if saved == nil {
		t.Fatal("log should be saved")
	}
	if log.ID == "" {
		t.Error("ID should be generated")
	}
	if log.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", log.UserID, "user-1")
	}
	// 名前の前後空白は除去される
	if log.Name != "鶏むね肉のサラダ" {
		t.Errorf("Name = %q, want trimmed", log.Name)
	}
	if !log.EatenAt.Equal(eatenAt) {
		t.Errorf("EatenAt = %v, want %v", log.EatenAt, eatenAt)
	}
}

func TestCreate_InvalidMealType_ReturnsError(t *testing.T) {
	createCalled := false
	repo := &mockFoodLogRepo{
		createFn: func(ctx context.Context, log *model.FoodLog) error {
			createCalled = true
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	_, err := svc.Create(context.Background(), "user-1", CreateInput{
		Name:     "test",
		MealType: "brunch",
	})
	if !isAPIErrorCode(err, model.ErrCodeInvalidMealType) {
		t.Errorf("expected INVALID_MEAL_TYPE, got %v", err)
	}
	if createCalled {
		t.Error("repository must not be called for invalid meal type")
	}
}

func TestCreate_NotesSanitizedBeforeSave(t *testing.T) {
	var saved *model.FoodLog
	repo := &mockFoodLogRepo{
		createFn: func(ctx context.Context, log *model.FoodLog) error {
			saved = log
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	_, err := svc.Create(context.Background(), "user-1", CreateInput{
		Name:     "test",
		MealType: "dinner",
		Notes:    `<p>メモ</p><script>alert('xss')</script>`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(saved.Notes, "script") || strings.Contains(saved.Notes, "alert") {
		t.Errorf("notes should be sanitized before save, got %q", saved.Notes)
	}
}

func TestCreate_ZeroEatenAt_DefaultsToNow(t *testing.T) {
	repo := &mockFoodLogRepo{}
	svc := newTestService(repo, nil, nil)

	before := time.Now()
	log, err := svc.Create(context.Background(), "user-1", CreateInput{
		Name:     "test",
		MealType: "snack",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.EatenAt.Before(before) || log.EatenAt.After(time.Now()) {
		t.Errorf("EatenAt = %v, want near now", log.EatenAt)
	}
}

// --- Get ---

func TestGet_OtherUsersLog_ReturnsNotFound(t *testing.T) {
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "owner"}, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	// 他人の記録は存在有無を漏らさずLOG_NOT_FOUNDにする
	_, err := svc.Get(context.Background(), "attacker", "log-1")
	if !isAPIErrorCode(err, model.ErrCodeLogNotFound) {
		t.Errorf("expected LOG_NOT_FOUND, got %v", err)
	}
}

func TestGet_MissingLog_ReturnsNotFound(t *testing.T) {
	svc := newTestService(&mockFoodLogRepo{}, nil, nil)

	_, err := svc.Get(context.Background(), "user-1", "no-such-log")
	if !isAPIErrorCode(err, model.ErrCodeLogNotFound) {
		t.Errorf("expected LOG_NOT_FOUND, got %v", err)
	}
}

// --- ListByDay ---

func TestListByDay_UsesLocalDayBoundaries(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)

	var gotFrom, gotTo time.Time
	repo := &mockFoodLogRepo{
		listByUserAndRangeFn: func(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
			gotFrom, gotTo = from, to
			return nil, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	day := time.Date(2026, 8, 28, 15, 30, 0, 0, jst)
	if _, err := svc.ListByDay(context.Background(), "user-1", day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantFrom := time.Date(2026, 8, 28, 0, 0, 0, 0, jst)
	if !gotFrom.Equal(wantFrom) {
		t.Errorf("from = %v, want %v", gotFrom, wantFrom)
	}
	if !gotTo.Equal(wantFrom.Add(24 * time.Hour)) {
		t.Errorf("to = %v, want %v", gotTo, wantFrom.Add(24*time.Hour))
	}
}

// --- Update ---

func TestUpdate_PartialFields_OnlyChangesProvided(t *testing.T) {
	existing := &model.FoodLog{
		ID:       "log-1",
		UserID:   "user-1",
		Name:     "サラダ",
		MealType: model.MealLunch,
		Calories: 350,
		ProteinG: 40,
	}
	var updated *model.FoodLog
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			copied := *existing
			return &copied, nil
		},
		updateFn: func(ctx context.Context, log *model.FoodLog) error {
			updated = log
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	newCalories := 400.0
	log, err := svc.Update(context.Background(), "user-1", "log-1", UpdateInput{
		Calories: &newCalories,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if log.Calories != 400 {
		t.Errorf("Calories = %v, want 400", log.Calories)
	}
	// 指定しなかったフィールドは変更されない
	if log.Name != "サラダ" || log.MealType != model.MealLunch || log.ProteinG != 40 {
		t.Errorf("unspecified fields should be unchanged, got %+v", log)
	}
	if updated == nil {
		t.Error("repository update should be called")
	}
}

func TestUpdate_InvalidMealType_ReturnsError(t *testing.T) {
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "user-1", MealType: model.MealLunch}, nil
		},
	}
	svc := newTestService(repo, nil, nil)

	bad := "brunch"
	_, err := svc.Update(context.Background(), "user-1", "log-1", UpdateInput{MealType: &bad})
	if !isAPIErrorCode(err, model.ErrCodeInvalidMealType) {
		t.Errorf("expected INVALID_MEAL_TYPE, got %v", err)
	}
}

func TestUpdate_NotesSanitized(t *testing.T) {
	var updated *model.FoodLog
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "user-1", MealType: model.MealLunch}, nil
		},
		updateFn: func(ctx context.Context, log *model.FoodLog) error {
			updated = log
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	notes := `<p onclick="steal()">更新メモ</p>`
	if _, err := svc.Update(context.Background(), "user-1", "log-1", UpdateInput{Notes: &notes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(updated.Notes, "onclick") {
		t.Errorf("notes should be sanitized on update, got %q", updated.Notes)
	}
}

// --- Delete ---

func TestDelete_OtherUsersLog_ReturnsNotFound(t *testing.T) {
	deleteCalled := false
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "owner"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleteCalled = true
			return nil
		},
	}
	svc := newTestService(repo, nil, nil)

	err := svc.Delete(context.Background(), "attacker", "log-1")
	if !isAPIErrorCode(err, model.ErrCodeLogNotFound) {
		t.Errorf("expected LOG_NOT_FOUND, got %v", err)
	}
	if deleteCalled {
		t.Error("delete must not be called for another user's log")
	}
}

// --- Sync ---

func TestSync_Success_PushesAndMarksSynced(t *testing.T) {
	log := &model.FoodLog{ID: "log-1", UserID: "user-1", Name: "サラダ", MealType: model.MealLunch}

	var markedID string
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			copied := *log
			return &copied, nil
		},
		markSyncedFn: func(ctx context.Context, id string, syncedAt time.Time) error {
			markedID = id
			return nil
		},
	}

	var pushedToken string
	platform := &mockPlatformClient{
		pushLogFn: func(ctx context.Context, accessToken string, pushed *model.FoodLog) error {
			pushedToken = accessToken
			return nil
		},
	}
	tokens := &mockTokenProvider{
		ensureFreshTokenFn: func(ctx context.Context, userID string) (string, error) {
			return "fresh-token", nil
		},
	}

	svc := newTestService(repo, tokens, platform)

	synced, err := svc.Sync(context.Background(), "user-1", "log-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pushedToken != "fresh-token" {
		t.Errorf("pushed with token %q, want %q", pushedToken, "fresh-token")
	}
	if markedID != "log-1" {
		t.Errorf("marked log = %q, want %q", markedID, "log-1")
	}
	if synced.SyncedAt == nil {
		t.Error("SyncedAt should be set after sync")
	}
}

func TestSync_TokenError_PropagatedWithoutPush(t *testing.T) {
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "user-1"}, nil
		},
	}
	pushCalled := false
	platform := &mockPlatformClient{
		pushLogFn: func(ctx context.Context, accessToken string, log *model.FoodLog) error {
			pushCalled = true
			return nil
		},
	}
	tokens := &mockTokenProvider{
		ensureFreshTokenFn: func(ctx context.Context, userID string) (string, error) {
			return "", model.NewCredentialsMissingError()
		},
	}
	svc := newTestService(repo, tokens, platform)

	_, err := svc.Sync(context.Background(), "user-1", "log-1")
	if !isAPIErrorCode(err, model.ErrCodeCredentialsMissing) {
		t.Errorf("expected CREDENTIALS_MISSING, got %v", err)
	}
	if pushCalled {
		t.Error("push must not happen without a valid token")
	}
}

func TestSync_PushFailure_ReturnsUpstreamFailure(t *testing.T) {
	markCalled := false
	repo := &mockFoodLogRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: id, UserID: "user-1"}, nil
		},
		markSyncedFn: func(ctx context.Context, id string, syncedAt time.Time) error {
			markCalled = true
			return nil
		},
	}
	platform := &mockPlatformClient{
		pushLogFn: func(ctx context.Context, accessToken string, log *model.FoodLog) error {
			return errors.New("503 service unavailable")
		},
	}
	svc := newTestService(repo, &mockTokenProvider{}, platform)

	_, err := svc.Sync(context.Background(), "user-1", "log-1")
	if !isAPIErrorCode(err, model.ErrCodeUpstreamFailure) {
		t.Errorf("expected UPSTREAM_FAILURE, got %v", err)
	}
	// 送信に失敗した記録を同期済みにしない
	if markCalled {
		t.Error("log must not be marked synced when push fails")
	}
}
