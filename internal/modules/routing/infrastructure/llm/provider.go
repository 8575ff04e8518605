package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"DeskRelay/internal/config"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

type ChatModelMeta struct {
	Provider string
	Model    string
}

// ErrProviderDisabled 未配置推理模型
var ErrProviderDisabled = fmt.Errorf("chat model provider not configured")

// NewChatModel 按配置创建 eino 对话模型，配置缺失的字段从环境变量补齐
func NewChatModel(ctx context.Context, conf config.AIChatModelConfig) (model.BaseChatModel, ChatModelMeta, error) {
	provider := strings.ToLower(strings.TrimSpace(conf.Provider))
	modelName := strings.TrimSpace(conf.Model)

	timeout := 2 * time.Minute
	if conf.TimeoutSeconds > 0 {
		timeout = time.Duration(conf.TimeoutSeconds) * time.Second
	}

	switch provider {
	case "", "disabled", "none":
		return nil, ChatModelMeta{}, ErrProviderDisabled

	case "openai":
		apiKey := firstNonEmpty(conf.APIKey, os.Getenv("OPENAI_API_KEY"))
		modelName = firstNonEmpty(modelName, os.Getenv("OPENAI_MODEL"))
		baseURL := firstNonEmpty(conf.BaseURL, os.Getenv("OPENAI_BASE_URL"))
		if apiKey == "" || modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("openai chat model missing apiKey/model")
		}

		cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:     apiKey,
			Model:      modelName,
			BaseURL:    baseURL,
			ByAzure:    conf.ByAzure,
			APIVersion: strings.TrimSpace(conf.AzureAPIVersion),
			Timeout:    timeout,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "openai", Model: modelName}, nil

	case "ark":
		apiKey := firstNonEmpty(conf.APIKey, os.Getenv("ARK_API_KEY"))
		accessKey := firstNonEmpty(conf.AccessKey, os.Getenv("ARK_ACCESS_KEY"))
		secretKey := firstNonEmpty(conf.SecretKey, os.Getenv("ARK_SECRET_KEY"))
		modelName = firstNonEmpty(modelName, os.Getenv("ARK_MODEL_ID"))
		baseURL := firstNonEmpty(conf.BaseURL, os.Getenv("ARK_BASE_URL"))
		region := firstNonEmpty(conf.Region, os.Getenv("ARK_REGION"))

		if apiKey == "" && (accessKey == "" || secretKey == "") {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing apiKey or accessKey/secretKey")
		}
		if modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing model")
		}

		// 重试交给队列的退避策略，这里只保留少量连接级重试
		retryTimes := 1
		if conf.RetryTimes > 0 {
			retryTimes = conf.RetryTimes
		}

		cm, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:     apiKey,
			AccessKey:  accessKey,
			SecretKey:  secretKey,
			Model:      modelName,
			BaseURL:    baseURL,
			Region:     region,
			Timeout:    &timeout,
			RetryTimes: &retryTimes,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "ark", Model: modelName}, nil

	default:
		return nil, ChatModelMeta{}, fmt.Errorf("unknown chat model provider: %s", provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
