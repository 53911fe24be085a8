package email

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/bililive-go/bililive-monitor/src/configs"
)

// SendEmail 按配置发送一封纯文本邮件
// to 非空时覆盖配置中的收件人列表
func SendEmail(subject, body string, to ...string) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	ec := cfg.Notify.Email
	if ec.SMTPHost == "" || ec.From == "" {
		return fmt.Errorf("email config is incomplete")
	}
	if len(to) == 0 {
		to = ec.To
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", ec.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(ec.SMTPHost, ec.SMTPPort, ec.Username, ec.Password)
	return d.DialAndSend(m)
}
