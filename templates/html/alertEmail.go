package templates

import (
	"fmt"
	"html"
	"strings"

	"github.com/openblood/bloodlink-api/models"
)

// RenderAlertEmail generates branded HTML for a shortage alert notification.
func RenderAlertEmail(alert models.AlertDetails) string {
	urgency := html.EscapeString(strings.ToUpper(alert.UrgencyLevel))
	bloodType := html.EscapeString(alert.BloodType)
	reason := html.EscapeString(alert.Reason)

	banner := "#667eea"
	if alert.UrgencyLevel == models.UrgencyCritical {
		banner = "#dc2626"
	}

	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, minimum-scale=1, maximum-scale=1">
  <title>Blood Needed: %s</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #f4f4f7; }
    .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
    .header { background: %s; padding: 40px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 24px; font-weight: 700; }
    .content { padding: 40px 30px; color: #1f2937; line-height: 1.6; font-size: 15px; }
    .cta { display: inline-block; margin-top: 20px; padding: 12px 28px; background: %s; color: #fff; border-radius: 6px; text-decoration: none; font-weight: 600; }
    .footer { padding: 30px; text-align: center; color: #6b7280; font-size: 12px; border-top: 1px solid #e5e7eb; }
    .footer a { color: #667eea; text-decoration: none; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s Blood Needed &mdash; %s</h1>
    </div>
    <div class="content">
      <p>A hospital near you urgently needs <strong>%d unit(s) of %s blood</strong>.</p>
      <p>%s</p>
      <p>If you are able to donate, please open the BloodLink app and respond to this alert. Every response helps the hospital plan.</p>
      <a class="cta" href="https://app.bloodlink.health/alerts">Respond Now</a>
    </div>
    <div class="footer">
      <p>&copy; BloodLink | <a href="https://www.bloodlink.health">bloodlink.health</a></p>
      <p>You are receiving this because you opted into shortage alerts. Manage preferences in the app.</p>
    </div>
  </div>
</body>
</html>`, bloodType, banner, banner, bloodType, urgency, alert.UnitsNeeded, bloodType, reason)
}
