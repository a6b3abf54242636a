package handler

import (
	"net/http"
	"strconv"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/service"
	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/response"
	"discussion_forum/pkg/utils"

	"github.com/gin-gonic/gin"
)

type DiscussionHandler struct {
	threads   service.ThreadService
	posts     service.PostService
	reactions service.ReactionService
}

func NewDiscussionHandler(threads service.ThreadService, posts service.PostService, reactions service.ReactionService) *DiscussionHandler {
	return &DiscussionHandler{threads: threads, posts: posts, reactions: reactions}
}

// ThreadQuery 讨论串列表查询
type ThreadQuery struct {
	utils.Pagination
	Type       model.DiscussionType `form:"type"`
	ResourceID string               `form:"resourceId"`
}

// ReactionTypeInput 修改表情
type ReactionTypeInput struct {
	Type model.ReactionType `json:"type" binding:"required"`
}

// --- Thread ---

// ListThreads 讨论串列表
func (h *DiscussionHandler) ListThreads(c *gin.Context) {
	var q ThreadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	q.Normalize()

	threads, total, err := h.threads.ListThreads(c.Request.Context(), model.ThreadFilter{Type: q.Type, ResourceID: q.ResourceID}, q.Page, q.Limit)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, q.Result(threads, total))
}

// GetThread 讨论串详情，includePosts=true 时带上顶层帖子
func (h *DiscussionHandler) GetThread(c *gin.Context) {
	includePosts, _ := strconv.ParseBool(c.DefaultQuery("includePosts", "false"))

	view, err := h.threads.GetThread(c.Request.Context(), c.Param("id"), includePosts)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

// CreateThread 创建讨论串
func (h *DiscussionHandler) CreateThread(c *gin.Context) {
	var input service.CreateThreadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, _ := middleware.CurrentUser(c)
	view, err := h.threads.CreateThread(c.Request.Context(), userID, input)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, view)
}

// UpdateThread 修改讨论串类型或资源
func (h *DiscussionHandler) UpdateThread(c *gin.Context) {
	var input service.UpdateThreadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	thread, err := h.threads.UpdateThread(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, thread)
}

// DeleteThread 删除讨论串及其全部帖子
func (h *DiscussionHandler) DeleteThread(c *gin.Context) {
	if err := h.threads.DeleteThread(c.Request.Context(), c.Param("id")); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// --- Post ---

// CreatePost 发帖或回复
func (h *DiscussionHandler) CreatePost(c *gin.Context) {
	var input service.CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, userName := middleware.CurrentUser(c)
	input.AuthorName = userName
	post, err := h.posts.CreatePost(c.Request.Context(), userID, input)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, post)
}

// GetPost 帖子详情及直接回复
func (h *DiscussionHandler) GetPost(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("includeDeleted", "false"))

	view, err := h.posts.GetPostWithCounts(c.Request.Context(), c.Param("id"), includeDeleted)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

// ListReplies 直接回复分页
func (h *DiscussionHandler) ListReplies(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	p.Normalize()

	replies, total, err := h.posts.ListReplies(c.Request.Context(), c.Param("id"), p.Page, p.Limit)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, p.Result(replies, total))
}

// UpdatePost 编辑帖子
func (h *DiscussionHandler) UpdatePost(c *gin.Context) {
	var input service.UpdatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, _ := middleware.CurrentUser(c)
	view, err := h.posts.UpdatePost(c.Request.Context(), c.Param("id"), userID, input)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

// DeletePost 级联删除帖子
func (h *DiscussionHandler) DeletePost(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	deleted, err := h.posts.DeletePost(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, gin.H{"deletedCount": deleted})
}

// CheckReview 用户是否已评价课程，支持 threadId 或 courseId
func (h *DiscussionHandler) CheckReview(c *gin.Context) {
	authorID := c.Query("authorId")
	threadID := c.Query("threadId")
	courseID := c.Query("courseId")
	if authorID == "" || (threadID == "" && courseID == "") {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "authorId and one of threadId or courseId are required")
		return
	}

	if threadID == "" {
		thread, err := h.threads.GetThreadByResource(c.Request.Context(), model.CourseReview, courseID)
		if apperror.Is(err, apperror.KindNotFound) {
			response.Success(c, model.ReviewStatus{})
			return
		}
		if err != nil {
			response.HandleError(c, err)
			return
		}
		threadID = thread.ID
	}

	status, err := h.posts.HasUserReviewed(c.Request.Context(), threadID, authorID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, status)
}

// --- Reaction ---

// CreateReaction 添加表情
func (h *DiscussionHandler) CreateReaction(c *gin.Context) {
	var input service.CreateReactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, userName := middleware.CurrentUser(c)
	input.UserName = userName
	reaction, err := h.reactions.CreateReaction(c.Request.Context(), userID, input)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, reaction)
}

// GetReaction 表情详情
func (h *DiscussionHandler) GetReaction(c *gin.Context) {
	reaction, err := h.reactions.GetReaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, reaction)
}

// ListPostReactions 帖子的全部表情及统计
func (h *DiscussionHandler) ListPostReactions(c *gin.Context) {
	reactions, counts, err := h.reactions.ListReactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, gin.H{"reactions": reactions, "counts": counts})
}

// UpdateReaction 修改表情
func (h *DiscussionHandler) UpdateReaction(c *gin.Context) {
	var input ReactionTypeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, _ := middleware.CurrentUser(c)
	reaction, err := h.reactions.UpdateReaction(c.Request.Context(), c.Param("id"), userID, input.Type)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, reaction)
}

// DeleteReaction 删除表情
func (h *DiscussionHandler) DeleteReaction(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	if err := h.reactions.DeleteReaction(c.Request.Context(), c.Param("id"), userID); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
