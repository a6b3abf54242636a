package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"discussion_forum/internal/pkg/config"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/push"
)

// PushClient 阿里云推送客户端的最小接口
type PushClient interface {
	Push(request *push.PushRequest) (*push.PushResponse, error)
}

// AliyunPushSender 把通知推送到收件人账号绑定的设备
type AliyunPushSender struct {
	client PushClient
	appKey int64
}

// NewAliyunPushSender 配置不完整时返回错误，调用方可以忽略推送通道
func NewAliyunPushSender(cfg config.PushConfig) (*AliyunPushSender, error) {
	if cfg.AccessKeyID == "" || cfg.AppKey == 0 {
		return nil, fmt.Errorf("push config is missing")
	}

	client, err := push.NewClientWithAccessKey(
		cfg.RegionID,
		cfg.AccessKeyID,
		cfg.AccessKeySecret,
	)
	if err != nil {
		return nil, err
	}

	return &AliyunPushSender{client: client, appKey: cfg.AppKey}, nil
}

// NewAliyunPushSenderWithClient 测试用
func NewAliyunPushSenderWithClient(client PushClient, appKey int64) *AliyunPushSender {
	return &AliyunPushSender{client: client, appKey: appKey}
}

func (s *AliyunPushSender) Send(_ context.Context, n Notification) error {
	ext := map[string]string{
		"type": string(n.Type),
		"link": n.Link,
	}
	extJSON, err := json.Marshal(ext)
	if err != nil {
		return err
	}

	var errs []error
	for _, recipient := range n.Recipients {
		request := push.CreatePushRequest()
		request.AppKey = requests.NewInteger(int(s.appKey))
		request.Target = "ACCOUNT"
		request.TargetValue = recipient
		request.Title = n.Title
		request.Body = n.Content
		request.DeviceType = "ALL"
		request.PushType = "NOTICE"
		request.AndroidExtParameters = string(extJSON)
		request.IOSExtParameters = string(extJSON)

		if _, err := s.client.Push(request); err != nil {
			errs = append(errs, fmt.Errorf("push to %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}
