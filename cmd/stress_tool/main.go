package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type threadData struct {
	ID            string              `json:"id"`
	OverallRating decimal.NullDecimal `json:"overallRating"`
}

func main() {
	app := &cli.App{
		Name:  "stress_tool",
		Usage: "Post concurrent course reviews to one thread and check the rating aggregate",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Base `URL` of the forum API"},
			&cli.IntFlag{Name: "users", Value: 1000, Usage: "Number of concurrent reviewers"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// 用服务端同一个 JWT secret 本地签发 token
	config.LoadConfig()
	baseURL := c.String("url")
	users := c.Int("users")

	owner, err := token("stress-owner")
	if err != nil {
		return err
	}
	resourceID := fmt.Sprintf("stress-course-%d", time.Now().UnixNano())
	var thread threadData
	if err := call(http.MethodPost, baseURL+"/threads", owner, map[string]interface{}{
		"type":       "COURSE_REVIEW",
		"resourceId": resourceID,
	}, &thread); err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	fmt.Printf("开始压测：%d 个用户并发评价讨论串 %s...\n", users, thread.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sum     int64
		success int
		failed  int
	)
	start := time.Now()

	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rating := rand.Intn(5) + 1
			err := review(baseURL, thread.ID, fmt.Sprintf("stress-user-%d", n), rating)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			success++
			sum += int64(rating)
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	var final threadData
	if err := call(http.MethodGet, baseURL+"/threads/"+thread.ID, "", nil, &final); err != nil {
		return fmt.Errorf("fetch thread: %w", err)
	}

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", users)
	fmt.Printf("QPS: %.2f\n", float64(users)/duration.Seconds())
	fmt.Printf("成功: %d, 失败: %d\n", success, failed)

	if success == 0 {
		fmt.Println("--------------------------------------------------")
		return errors.New("no review succeeded")
	}
	expected := decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(int64(success)), 2)
	fmt.Printf("平均评分: %s (预期: %s)\n", final.OverallRating.Decimal.String(), expected.String())
	fmt.Println("--------------------------------------------------")

	if !final.OverallRating.Valid || !final.OverallRating.Decimal.Equal(expected) {
		return errors.New("rating aggregate does not match the submitted reviews")
	}
	return nil
}

func token(userID string) (string, error) {
	tok, _, err := utils.GenerateToken(userID, userID)
	return tok, err
}

func review(baseURL, threadID, userID string, rating int) error {
	tok, err := token(userID)
	if err != nil {
		return err
	}
	return call(http.MethodPost, baseURL+"/posts", tok, map[string]interface{}{
		"threadId": threadID,
		"content":  fmt.Sprintf("review from %s", userID),
		"rating":   rating,
	}, nil)
}

func call(method, url, tok string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices || result.Code != 0 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, result.Message)
	}
	if out != nil {
		return json.Unmarshal(result.Data, out)
	}
	return nil
}
