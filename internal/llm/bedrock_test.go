package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/kbchat/backend/pkg/circuitbreaker"
	"github.com/kbchat/backend/pkg/retry"
)

type fakeInvoker struct {
	calls  []string
	bodies []map[string]interface{}
	fail   error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls = append(f.calls, *in.ModelId)

	var body map[string]interface{}
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return nil, err
	}
	f.bodies = append(f.bodies, body)

	if f.fail != nil {
		return nil, f.fail
	}

	var out []byte
	switch *in.ModelId {
	case "amazon.titan-embed-text-v1":
		text := body["inputText"].(string)
		out, _ = json.Marshal(map[string]interface{}{
			"embedding":           []float32{float32(len(text)), 0.5},
			"inputTextTokenCount": 1,
		})
	default:
		out, _ = json.Marshal(map[string]interface{}{
			"inputTextTokenCount": 7,
			"results": []map[string]interface{}{
				{"tokenCount": 2, "outputText": " I don't know.", "completionReason": "FINISH"},
			},
		})
	}
	return &bedrockruntime.InvokeModelOutput{Body: out}, nil
}

func newTestBedrock(inv *fakeInvoker) *BedrockClient {
	return NewBedrockClient(inv, BedrockOptions{
		Model:          "amazon.titan-text-lite-v1",
		EmbeddingModel: "amazon.titan-embed-text-v1",
	})
}

func TestBedrockEmbedDocumentsOneCallPerText(t *testing.T) {
	inv := &fakeInvoker{}
	client := newTestBedrock(inv)

	vectors, err := client.EmbedDocuments(context.Background(), []string{"a", "bbb"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(inv.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(inv.calls))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 3 {
		t.Errorf("unexpected vectors %v", vectors)
	}
}

func TestBedrockGenerateSendsMaxTokenCount(t *testing.T) {
	inv := &fakeInvoker{}
	client := newTestBedrock(inv)

	got, err := client.Generate(context.Background(), "prompt text", 512)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != " I don't know." {
		t.Errorf("expected verbatim output, got %q", got)
	}

	body := inv.bodies[0]
	if body["inputText"] != "prompt text" {
		t.Errorf("unexpected inputText %v", body["inputText"])
	}
	settings := body["textGenerationConfig"].(map[string]interface{})
	if settings["maxTokenCount"].(float64) != 512 {
		t.Errorf("unexpected maxTokenCount %v", settings["maxTokenCount"])
	}
}

func TestBedrockPropagatesErrors(t *testing.T) {
	boom := errors.New("throttled")
	client := newTestBedrock(&fakeInvoker{fail: boom})

	if _, err := client.EmbedQuery(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type statusError int

func (e statusError) Error() string       { return "http status" }
func (e statusError) HTTPStatusCode() int { return int(e) }

func TestIsBedrockTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "throttling", err: &smithy.GenericAPIError{Code: "ThrottlingException", Fault: smithy.FaultClient}, want: true},
		{name: "model timeout", err: &smithy.GenericAPIError{Code: "ModelTimeoutException", Fault: smithy.FaultClient}, want: true},
		{name: "server fault", err: &smithy.GenericAPIError{Code: "SomethingBroke", Fault: smithy.FaultServer}, want: true},
		{name: "validation", err: &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}, want: false},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException", Fault: smithy.FaultClient}, want: false},
		{name: "wrapped validation", err: fmt.Errorf("invoke: %w", &smithy.GenericAPIError{Code: "ValidationException"}), want: false},
		{name: "http 429", err: statusError(429), want: true},
		{name: "http 503", err: statusError(503), want: true},
		{name: "http 404", err: statusError(404), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "permanent", err: retry.Permanent(errors.New("bad json")), want: false},
		{name: "network", err: errors.New("connection reset"), want: true},
	}

	for _, tt := range tests {
		if got := isBedrockTransient(tt.err); got != tt.want {
			t.Errorf("%s: isBedrockTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBedrockClientErrorsDoNotOpenBreaker(t *testing.T) {
	inv := &fakeInvoker{fail: &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}}
	client := newTestBedrock(inv)

	for i := 0; i < 10; i++ {
		if _, err := client.EmbedQuery(context.Background(), "x"); errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			t.Fatalf("breaker opened after %d validation errors", i)
		}
	}

	inv.fail = nil
	if _, err := client.EmbedQuery(context.Background(), "x"); err != nil {
		t.Fatalf("valid request after validation errors: %v", err)
	}
}

func TestBedrockThrottlingOpensBreaker(t *testing.T) {
	inv := &fakeInvoker{fail: &smithy.GenericAPIError{Code: "ThrottlingException", Fault: smithy.FaultClient}}
	client := newTestBedrock(inv)

	for i := 0; i < 5; i++ {
		client.EmbedQuery(context.Background(), "x")
	}

	inv.fail = nil
	if _, err := client.EmbedQuery(context.Background(), "x"); !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected open breaker after repeated throttling, got %v", err)
	}
}
