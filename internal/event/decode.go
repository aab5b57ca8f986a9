package event

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "CeleryPulse/internal/errors"
)

const contentTypeJSON = "application/json"

// Decode 解析消息体。Celery 可能一次发送单个事件或事件数组。
func Decode(body []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, xerrors.New(xerrors.CodeDecodeFailure, "事件消息体为空")
	}

	if trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析事件数组失败")
		}
		return events, nil
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析事件失败")
	}
	return []Event{ev}, nil
}

// DecodeContent 校验 content-type 后解析消息体。空 content-type 视为 JSON。
func DecodeContent(contentType string, body []byte) ([]Event, error) {
	if !isJSON(contentType) {
		return nil, xerrors.New(xerrors.CodeDecodeFailure,
			fmt.Sprintf("不支持的事件序列化格式: %s", contentType),
			xerrors.WithMetadata("content_type", contentType))
	}
	return Decode(body)
}

// Envelope 是 kombu 在 Redis 传输上包装消息的格式。
type Envelope struct {
	Body            json.RawMessage `json:"body"`
	ContentType     string          `json:"content-type"`
	ContentEncoding string          `json:"content-encoding"`
	Properties      struct {
		BodyEncoding string `json:"body_encoding"`
		DeliveryInfo struct {
			Exchange   string `json:"exchange"`
			RoutingKey string `json:"routing_key"`
		} `json:"delivery_info"`
	} `json:"properties"`
}

// DecodeEnvelope 解开 kombu 信封并解析其中的事件。
func DecodeEnvelope(payload []byte) ([]Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析 kombu 信封失败")
	}
	if len(env.Body) == 0 {
		return nil, xerrors.New(xerrors.CodeDecodeFailure, "kombu 信封缺少 body")
	}

	var body []byte
	if env.Body[0] == '"' {
		var text string
		if err := json.Unmarshal(env.Body, &text); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "读取 kombu body 失败")
		}
		body = []byte(text)
		if strings.EqualFold(env.Properties.BodyEncoding, "base64") {
			decoded, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "base64 解码 body 失败")
			}
			body = decoded
		}
	} else {
		// 部分客户端直接内嵌 JSON 对象
		body = env.Body
	}
	return DecodeContent(env.ContentType, body)
}

func isJSON(contentType string) bool {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if contentType == "" {
		return true
	}
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType == contentTypeJSON
}
