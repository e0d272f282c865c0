package mail

import (
	"context"
	"errors"
	"testing"

	xerrors "FinCopilot/internal/errors"
)

// stubSender 记录发送请求。
type stubSender struct {
	to      []string
	subject string
	err     error
}

func (s *stubSender) Send(_ context.Context, to []string, subject, _ string) error {
	s.to = to
	s.subject = subject
	return s.err
}

func TestEmailToolSend(t *testing.T) {
	sender := &stubSender{}
	tl := NewEmailTool(sender)

	out, err := tl.Invoke(context.Background(), map[string]string{
		"to_email": "zhangsan@example.com",
		"cc_email": "lisi@example.com",
		"subject":  "3月报销汇总",
		"body":     "您3月共报销 2300.00 元。",
	})
	if err != nil {
		t.Fatalf("Invoke 失败: %v", err)
	}
	if len(sender.to) != 2 || sender.to[0] != "zhangsan@example.com" {
		t.Fatalf("收件人不符: %v", sender.to)
	}
	if out.Text == "" {
		t.Fatal("结果文本不应为空")
	}
}

func TestEmailToolValidation(t *testing.T) {
	tl := NewEmailTool(&stubSender{})
	ctx := context.Background()

	if _, err := tl.Invoke(ctx, map[string]string{"to_email": "a@b.com"}); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
		t.Fatal("缺少主题和正文应返回参数错误")
	}
	if _, err := tl.Invoke(ctx, map[string]string{
		"to_email": "not-an-address", "subject": "s", "body": "b",
	}); xerrors.CodeOf(err) != xerrors.CodeParameterInvalid {
		t.Fatal("非法收件人地址应返回参数错误")
	}
}

func TestEmailToolSendFailureIsUncertain(t *testing.T) {
	tl := NewEmailTool(&stubSender{err: errors.New("connection reset")})

	_, err := tl.Invoke(context.Background(), map[string]string{
		"to_email": "zhangsan@example.com", "subject": "s", "body": "b",
	})
	if xerrors.CodeOf(err) != xerrors.CodeMutationUncertain {
		t.Fatalf("发送失败应标记为结果不确定, 实际: %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatal("结果不确定的错误绝不允许重试")
	}
}
