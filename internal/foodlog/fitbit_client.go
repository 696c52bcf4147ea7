package foodlog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/meallog/internal/model"
)

const defaultFitbitFoodLogURL = "https://api.fitbit.com/1/user/-/foods/log.json"

// fitbitMealTypeIDs はFitbit APIの食事区分ID。
var fitbitMealTypeIDs = map[model.MealType]int{
	model.MealBreakfast: 1,
	model.MealLunch:     3,
	model.MealDinner:    5,
	model.MealSnack:     7,
}

// FitbitFoodClient はFitbitの食事記録APIへのクライアント。
// PlatformClientの実装。アクセストークンは呼び出しごとに受け取り、保持しない。
type FitbitFoodClient struct {
	client *http.Client

	// テスト用にオーバーライド可能なURL
	endpoint string
}

// NewFitbitFoodClient はFitbitFoodClientを生成する。
// タイムアウトを設定したクライアントを渡すこと。
func NewFitbitFoodClient(client *http.Client) *FitbitFoodClient {
	return &FitbitFoodClient{
		client:   client,
		endpoint: defaultFitbitFoodLogURL,
	}
}

// PushLog は食事記録をFitbitに送信する。
func (c *FitbitFoodClient) PushLog(ctx context.Context, accessToken string, log *model.FoodLog) error {
	form := url.Values{}
	form.Set("foodName", log.Name)
	form.Set("mealTypeId", strconv.Itoa(fitbitMealTypeIDs[log.MealType]))
	form.Set("unitId", "304") // serving
	form.Set("amount", "1")
	form.Set("date", log.EatenAt.Format("2006-01-02"))
	form.Set("calories", strconv.Itoa(int(log.Calories)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = form.Encode()
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push food log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// レスポンスボディはエラー詳細のみでトークンは含まれない
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("food log push returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// compile-time interface check
var _ PlatformClient = (*FitbitFoodClient)(nil)
