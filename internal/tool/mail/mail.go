// Package mail implements the send_email tool over SMTP.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/tool"
)

// Sender 抽象邮件发送通道，便于测试替换。
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPConfig 描述 SMTP 服务器连接参数。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender 通过标准 SMTP 协议发送邮件。
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender 创建 SMTP 发送器。
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "SMTP 配置缺少 host 或 from")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send 实现 Sender 接口。
func (s *SMTPSender) Send(_ context.Context, to []string, subject, body string) error {
	var msg strings.Builder
	msg.WriteString("From: " + s.cfg.From + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(addr, auth, s.cfg.From, to, []byte(msg.String()))
}

// EmailTool 发送通知邮件。收件人地址通常由员工查询步骤导出。
type EmailTool struct {
	sender Sender
}

// NewEmailTool 创建邮件工具。
func NewEmailTool(sender Sender) *EmailTool {
	return &EmailTool{sender: sender}
}

// Spec 实现 tool.Tool 接口。
func (t *EmailTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "send_email",
		Description: "向指定邮箱发送通知邮件",
		Category:    tool.CategoryAction,
		Required:    []string{"to_email", "subject", "body"},
		Optional: map[string]string{
			"cc_email": "",
		},
		Upstream: map[string]string{
			"to_email": "employee_email",
		},
		Mutating: true,
	}
}

// Invoke 实现 tool.Tool 接口。
func (t *EmailTool) Invoke(ctx context.Context, args map[string]string) (*tool.Output, error) {
	spec := t.Spec()
	if missing := spec.MissingRequired(args); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("缺少必填参数: %s", strings.Join(missing, ", ")),
			xerrors.WithMetadata("missing", strings.Join(missing, ",")))
	}

	to := strings.TrimSpace(args["to_email"])
	if !validAddress(to) {
		return nil, xerrors.New(xerrors.CodeParameterInvalid,
			fmt.Sprintf("收件人地址 %q 不合法", to),
			xerrors.WithMetadata("param", "to_email"))
	}
	recipients := []string{to}
	if cc := strings.TrimSpace(args["cc_email"]); cc != "" {
		if !validAddress(cc) {
			return nil, xerrors.New(xerrors.CodeParameterInvalid,
				fmt.Sprintf("抄送地址 %q 不合法", cc),
				xerrors.WithMetadata("param", "cc_email"))
		}
		recipients = append(recipients, cc)
	}

	if err := t.sender.Send(ctx, recipients, args["subject"], args["body"]); err != nil {
		// 发送请求已经发出, 无法确认对端是否投递, 不允许重试。
		return nil, xerrors.Wrap(xerrors.CodeMutationUncertain, err,
			fmt.Sprintf("发送邮件到 %s 的结果不确定", to))
	}

	return &tool.Output{
		Text:    fmt.Sprintf("邮件已发送至 %s, 主题: %s", strings.Join(recipients, ", "), args["subject"]),
		Origins: []string{"邮件系统"},
	}, nil
}

func validAddress(addr string) bool {
	at := strings.Index(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	domain := addr[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(addr, " \t\r\n")
}
