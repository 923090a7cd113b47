package mail

import (
	"fmt"
	"html"
	"time"
)

// renderLayout wraps a mail body in the shared HTML shell. Body content is
// built by the composition helpers below; any user-supplied values must be
// escaped before interpolation.
func renderLayout(bodyContent string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin: 0; padding: 0; background-color: #fafafa; font-family: Arial, sans-serif;">
	<table role="presentation" width="100%%" cellpadding="0" cellspacing="0">
		<tr>
			<td align="center" style="padding: 30px 0;">
				<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background-color: #ffffff; border-radius: 8px;">
					<tr>
						<td style="padding: 20px; text-align: center; background-color: #114000; border-radius: 8px 8px 0 0;">
							<span style="color: #fafafa; font-size: 22px; font-weight: bold;">Dash</span>
						</td>
					</tr>
					<tr>%s</tr>
					<tr>
						<td style="padding: 15px; text-align: center; font-size: 12px; color: #888888;">
							&copy; Dash. All rights reserved.
						</td>
					</tr>
				</table>
			</td>
		</tr>
	</table>
</body>
</html>`, bodyContent)
}

func loginAlertBody(ipAddress string, at time.Time) string {
	fromIP := ""
	if ipAddress != "" {
		fromIP = fmt.Sprintf(" from IP address <strong>%s</strong>", html.EscapeString(ipAddress))
	}

	return renderLayout(fmt.Sprintf(`
		<td style="padding: 20px; line-height: 1.8;">
			<p>Your account was logged into on <strong>%s</strong>%s.</p>
			<p>If this wasn't you, please change your password immediately and contact support.</p>
			<p>Best regards,<br />The Dash Team</p>
		</td>`,
		at.Format("Monday, January 2, 2006, 03:04 PM"), fromIP))
}

func welcomeBody() string {
	return renderLayout(`
		<td style="padding: 20px; line-height: 1.8;">
			<p>Welcome to Dash!</p>
			<p>We're thrilled to have you as part of our community. At Dash, we are dedicated to providing seamless services and support to our users.</p>
			<p>Best regards,<br />The Dash Team</p>
		</td>`)
}
