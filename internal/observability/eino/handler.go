package eino

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/pkg/metrics"
)

// startTimeKey 记录调用开始时间，OnEnd/OnError 时计算耗时
type startTimeKey struct{}

// modelKey OnStart 时解析出的模型名
type modelKey struct{}

// newEmbeddingCallbackHandler 嵌入组件回调：追踪 span、调用计数与 token 消耗
func newEmbeddingCallbackHandler() *cbtemplate.EmbeddingCallbackHandler {
	return &cbtemplate.EmbeddingCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *embedding.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())
			modelName := modelNameFromInput(input)
			ctx = context.WithValue(ctx, modelKey{}, modelName)

			attrs := []attribute.KeyValue{
				attribute.String("embedding.provider", providerName(info)),
				attribute.String("embedding.model", modelName),
			}
			if input != nil {
				attrs = append(attrs, attribute.Int("embedding.texts", len(input.Texts)))
			}
			ctx, _ = otel.Tracer("eino").Start(ctx, "embedding.eino", trace.WithAttributes(attrs...))
			return ctx
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *embedding.CallbackOutput) context.Context {
			provider := providerName(info)
			modelName := modelNameFromOutput(output)
			if modelName == "" {
				modelName, _ = ctx.Value(modelKey{}).(string)
			}

			metrics.EmbeddingComponentCalls.WithLabelValues(provider, modelName, "success").Inc()
			if output != nil && output.TokenUsage != nil {
				metrics.EmbeddingTokensUsed.WithLabelValues(provider, modelName).Add(float64(output.TokenUsage.TotalTokens))
			}

			span := trace.SpanFromContext(ctx)
			if output != nil && output.TokenUsage != nil {
				span.SetAttributes(attribute.Int("embedding.total_tokens", output.TokenUsage.TotalTokens))
			}
			span.SetAttributes(attribute.Int64("embedding.elapsed_ms", elapsed(ctx).Milliseconds()))
			span.End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			modelName, _ := ctx.Value(modelKey{}).(string)
			metrics.EmbeddingComponentCalls.WithLabelValues(providerName(info), modelName, "error").Inc()

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return ctx
		},
	}
}

func providerName(info *einocb.RunInfo) string {
	if info == nil {
		return ""
	}
	return info.Name
}

// elapsed 从 OnStart 记录的时间算起，取不到时返回 0
func elapsed(ctx context.Context) time.Duration {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start)
}

func modelNameFromInput(in *embedding.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *embedding.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
