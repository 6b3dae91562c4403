package mailer

// verificationTemplate renders the signup code email.
const verificationTemplate = `<div style="font-family:Arial,sans-serif; font-size:14px; color:#111; max-width:560px; margin:0 auto;">
  <p>Hi {{ name | default: "there" }},</p>
  <p>Use this code to verify your email address:</p>
  <p style="font-size:28px; font-weight:bold; letter-spacing:6px; margin:20px 0;">{{ code }}</p>
  <p>The code expires in 15 minutes. If you did not sign up, ignore this email.</p>
</div>`

// resetTemplate renders the password reset email.
const resetTemplate = `<div style="font-family:Arial,sans-serif; font-size:14px; color:#111; max-width:560px; margin:0 auto;">
  <p>Hi {{ name | default: "there" }},</p>
  <p>We received a request to reset your password. The link below works for one hour:</p>
  <p style="margin:20px 0;">
    <a href="{{ reset_url }}" style="background:#2563eb; color:#fff; padding:10px 18px; border-radius:6px; text-decoration:none;">Reset password</a>
  </p>
  <p>If the button does not work, open this address:</p>
  <p><a href="{{ reset_url }}">{{ reset_url }}</a></p>
  <p>If you did not ask for a reset, ignore this email; your password is unchanged.</p>
</div>`
