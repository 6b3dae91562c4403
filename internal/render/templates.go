package render

// personalMessageWrapper is the outer container every rendered fragment
// ships in. The {{content}} slot is replaced directly, not through the
// template grammar.
const personalMessageWrapper = `<div style="
  font-family: Arial, sans-serif;
  font-size: 14px;
  color: #111;
  line-height: 1.6;
">
  <div style="
    max-width: 600px;
    margin: 0 auto;
    padding: 16px;
  ">
    {{content}}
  </div>
</div>`

// DefaultSchedulerTemplate is the built-in body used when the user has no
// saved scheduler template and the followup carries no message override.
const DefaultSchedulerTemplate = `<div style="font-family:Arial,sans-serif; font-size:14px; color:#111;">
  {% if brand_logo %}
    <div style="margin-bottom:10px;">
      <img src="{{brand_logo}}" alt="{{company_name}}" style="height:36px">
    </div>
  {% endif %}

  <p>Hi {{name}},</p>
  <p>Just a quick reminder about {{type}}.</p>

  {% if description %}
    <p>{{description}}</p>
  {% endif %}

  {% if due_date %}
    <p><b>Due date:</b> {{due_date}}</p>
  {% endif %}

  <p>Thanks,<br>{{sender}}</p>

  {% if footer %}
    <hr>
    <small style="color:#64748b;">{{footer}}</small>
  {% endif %}
</div>`

const overrideDocument = `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>%s</body>
</html>`

const templateDocument = `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body style="font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; padding:16px;">
%s
</body>
</html>`
