package discussion

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/internal/pkg/registry"
	"discussion_forum/pkg/response"
	"discussion_forum/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	mctx   *registry.ModuleContext
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.GlobalConfig.JWT.Secret = "test-secret-that-is-long-enough-123456"
	config.GlobalConfig.JWT.Expire = 1

	engine := gin.New()
	mctx := &registry.ModuleContext{
		Router: engine,
		Events: realtime.NewRouter(nil, nil),
	}
	require.NoError(t, (&DiscussionModule{}).Init(mctx))
	return &testServer{t: t, engine: engine, mctx: mctx}
}

func (s *testServer) token(userID, userName string) string {
	tok, _, err := utils.GenerateToken(userID, userName)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) (int, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func decodeData(t *testing.T, resp apiResponse, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

type threadBody struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	ResourceID    string              `json:"resourceId"`
	OverallRating decimal.NullDecimal `json:"overallRating"`
	PostCount     int64               `json:"postCount"`
	Posts         []struct {
		ID string `json:"id"`
	} `json:"posts"`
}

func TestModuleExposesThreadChecker(t *testing.T) {
	s := newTestServer(t)
	assert.NotNil(t, s.mctx.Threads)
}

func TestCreateThreadRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/threads", "", gin.H{"type": "COURSE_REVIEW", "resourceId": "c1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrAuthFailed, resp.Code)
}

func TestCreateThreadRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("u1", "alice")

	code, resp := s.do(http.MethodPost, "/threads", tok, gin.H{"resourceId": "c1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidParam, resp.Code)
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.token("u1", "alice")

	code, resp := s.do(http.MethodPost, "/threads", alice, gin.H{
		"type":        "COURSE_REVIEW",
		"resourceId":  "course-1",
		"initialPost": gin.H{"content": "great course", "rating": 4},
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var created threadBody
	decodeData(t, resp, &created)
	require.True(t, created.OverallRating.Valid)
	assert.True(t, created.OverallRating.Decimal.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, int64(1), created.PostCount)
	require.Len(t, created.Posts, 1)

	// 同一资源只能有一个讨论串
	code, _ = s.do(http.MethodPost, "/threads", alice, gin.H{"type": "COURSE_REVIEW", "resourceId": "course-1"})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(http.MethodGet, "/threads/"+created.ID+"?includePosts=true", "", nil)
	require.Equal(t, http.StatusOK, code)
	var got threadBody
	decodeData(t, resp, &got)
	assert.Len(t, got.Posts, 1)

	code, resp = s.do(http.MethodGet, "/threads?type=COURSE_REVIEW&page=1&limit=5", "", nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 5, page.Limit)

	code, _ = s.do(http.MethodDelete, "/threads/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodGet, "/threads/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPostTreeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.token("u1", "alice")
	bob := s.token("u2", "bob")

	_, resp := s.do(http.MethodPost, "/threads", alice, gin.H{"type": "LESSON_DISCUSSION", "resourceId": "lesson-1"})
	var thread threadBody
	decodeData(t, resp, &thread)

	code, resp := s.do(http.MethodPost, "/posts", alice, gin.H{"threadId": thread.ID, "content": "question"})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var root struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &root)

	var replyID string
	for i := 0; i < 2; i++ {
		code, resp = s.do(http.MethodPost, "/posts", bob, gin.H{"threadId": thread.ID, "parentId": root.ID, "content": "answer"})
		require.Equal(t, http.StatusCreated, code, resp.Message)
		var reply struct {
			ID string `json:"id"`
		}
		decodeData(t, resp, &reply)
		replyID = reply.ID
	}
	code, _ = s.do(http.MethodPost, "/posts", alice, gin.H{"threadId": thread.ID, "parentId": replyID, "content": "thanks"})
	require.Equal(t, http.StatusCreated, code)

	code, resp = s.do(http.MethodGet, "/posts/"+root.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		TotalRepliesCount int               `json:"totalRepliesCount"`
		Replies           []json.RawMessage `json:"replies"`
	}
	decodeData(t, resp, &view)
	assert.Equal(t, 3, view.TotalRepliesCount)
	assert.Len(t, view.Replies, 2)

	code, resp = s.do(http.MethodGet, "/posts/"+root.ID+"/replies?limit=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Total int64             `json:"total"`
		List  []json.RawMessage `json:"list"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.List, 1)

	// 只有作者能编辑和删除
	code, _ = s.do(http.MethodPatch, "/posts/"+root.ID, bob, gin.H{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodDelete, "/posts/"+root.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(http.MethodPatch, "/posts/"+root.ID, alice, gin.H{"content": "edited question"})
	require.Equal(t, http.StatusOK, code)
	var edited struct {
		Content  string `json:"content"`
		IsEdited bool   `json:"isEdited"`
	}
	decodeData(t, resp, &edited)
	assert.Equal(t, "edited question", edited.Content)
	assert.True(t, edited.IsEdited)

	code, resp = s.do(http.MethodDelete, "/posts/"+root.ID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	var deleted struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	decodeData(t, resp, &deleted)
	assert.Equal(t, int64(4), deleted.DeletedCount)

	code, _ = s.do(http.MethodGet, "/posts/"+replyID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodGet, "/posts/"+replyID+"?includeDeleted=true", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCheckReview(t *testing.T) {
	s := newTestServer(t)
	alice := s.token("u1", "alice")

	code, resp := s.do(http.MethodGet, "/posts/check-review?courseId=course-9&authorId=u1", "", nil)
	require.Equal(t, http.StatusOK, code)
	var status struct {
		HasReviewed bool   `json:"hasReviewed"`
		ReviewID    string `json:"reviewId"`
	}
	decodeData(t, resp, &status)
	assert.False(t, status.HasReviewed)

	_, resp = s.do(http.MethodPost, "/threads", alice, gin.H{
		"type":        "COURSE_REVIEW",
		"resourceId":  "course-9",
		"initialPost": gin.H{"content": "solid", "rating": 5},
	})
	var thread threadBody
	decodeData(t, resp, &thread)

	code, resp = s.do(http.MethodGet, "/posts/check-review?courseId=course-9&authorId=u1", "", nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &status)
	assert.True(t, status.HasReviewed)
	assert.Equal(t, thread.Posts[0].ID, status.ReviewID)

	code, resp = s.do(http.MethodGet, "/posts/check-review?threadId="+thread.ID+"&authorId=u2", "", nil)
	require.Equal(t, http.StatusOK, code)
	status = struct {
		HasReviewed bool   `json:"hasReviewed"`
		ReviewID    string `json:"reviewId"`
	}{}
	decodeData(t, resp, &status)
	assert.False(t, status.HasReviewed)

	code, _ = s.do(http.MethodGet, "/posts/check-review?authorId=u1", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReactionsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.token("u1", "alice")
	bob := s.token("u2", "bob")

	_, resp := s.do(http.MethodPost, "/threads", alice, gin.H{
		"type":        "LESSON_DISCUSSION",
		"resourceId":  "lesson-2",
		"initialPost": gin.H{"content": "hello"},
	})
	var thread threadBody
	decodeData(t, resp, &thread)
	postID := thread.Posts[0].ID

	code, resp := s.do(http.MethodPost, "/reactions", bob, gin.H{"postId": postID, "type": "LIKE"})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var reaction struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	decodeData(t, resp, &reaction)

	code, _ = s.do(http.MethodPost, "/reactions", bob, gin.H{"postId": postID, "type": "LOVE"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/reactions", alice, gin.H{"postId": postID, "type": "SHRUG"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPatch, "/reactions/"+reaction.ID, alice, gin.H{"type": "WOW"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(http.MethodPatch, "/reactions/"+reaction.ID, bob, gin.H{"type": "WOW"})
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &reaction)
	assert.Equal(t, "WOW", reaction.Type)

	code, resp = s.do(http.MethodGet, "/reactions/post/"+postID, "", nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Reactions []json.RawMessage `json:"reactions"`
		Counts    map[string]int    `json:"counts"`
	}
	decodeData(t, resp, &listed)
	assert.Len(t, listed.Reactions, 1)
	assert.Equal(t, 1, listed.Counts["WOW"])
	assert.Equal(t, 1, listed.Counts["total"])

	code, _ = s.do(http.MethodDelete, "/reactions/"+reaction.ID, bob, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, "/reactions/"+reaction.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUpdateThreadOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.token("u1", "alice")

	_, resp := s.do(http.MethodPost, "/threads", alice, gin.H{"type": "LESSON_DISCUSSION", "resourceId": "lesson-1"})
	var thread threadBody
	decodeData(t, resp, &thread)
	s.do(http.MethodPost, "/threads", alice, gin.H{"type": "LESSON_DISCUSSION", "resourceId": "lesson-2"})

	code, _ := s.do(http.MethodPut, "/threads/"+thread.ID, "", gin.H{"resourceId": "lesson-3"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp = s.do(http.MethodPut, "/threads/"+thread.ID, alice, gin.H{"resourceId": "lesson-3"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var updated threadBody
	decodeData(t, resp, &updated)
	assert.Equal(t, "lesson-3", updated.ResourceID)
	assert.Equal(t, "LESSON_DISCUSSION", updated.Type)

	code, _ = s.do(http.MethodPut, "/threads/"+thread.ID, alice, gin.H{"resourceId": "lesson-2"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodPut, "/threads/"+thread.ID, alice, gin.H{"type": "FORUM"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPut, "/threads/missing", alice, gin.H{"resourceId": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}
