package mcpserver

// TemplateSyntax describes the template language that LLM consumers should
// follow when writing pages and base templates.
const TemplateSyntax = `# Kiln Template Syntax

A site is made of **base templates** (HTML files) and **pages** (MarkDown files).
Every page extends exactly one base and overrides some of its blocks.

## Base template

` + "```" + `html
<!doctype html>
<html>
  <head><title>{% block title | text %}My site{% endblock title %}</title></head>
  <body>
    {% block body %}Default *MarkDown* body.{% endblock body %}
  </body>
</html>
` + "```" + `

## Page

` + "```" + `markdown
{% extends "base.html" %}

{% block title | text %}Hello{% endblock title %}

{% block body %}
# Hello

Written in **MarkDown**.
{% endblock body %}
` + "```" + `

## Rules

1. A page MUST contain exactly one ` + "`" + `{% extends "name" %}` + "`" + `. The name is the base
   path relative to the input directory with forward slashes (e.g. ` + "`" + `layouts/base.html` + "`" + `).
2. A base MUST NOT contain ` + "`" + `extends` + "`" + `. Inheritance is one level deep.
3. Blocks open with ` + "`" + `{% block name %}` + "`" + ` and close with ` + "`" + `{% endblock name %}` + "`" + `.
   The two names MUST match. Blocks do not nest.
4. Block names are unique within one template.
5. A page may only override blocks its base declares.
6. Base blocks a page leaves out render their own default content.
7. Content outside blocks in a page is ignored.

## Filters

Filters follow the block name, separated by ` + "`" + `|` + "`" + `, and run left to right:

| Filter | Effect |
|---|---|
| ` + "`" + `text` + "`" + ` | insert the content unchanged |
| ` + "`" + `trim` + "`" + ` | strip surrounding whitespace |
| ` + "`" + `html` + "`" + ` | convert MarkDown to HTML |

A block with no filters is converted from MarkDown. A page block with no filters uses the
filters its base declares for that block.

## Articles

Pages under the articles directory may declare metadata, one property per comment:

` + "```" + `html
<!-- define title: Building a Kiln -->
<!-- define published: 2024-05-01 -->
` + "```" + `

Known properties: title, description, category, subcategory, genre, keywords, tags,
published, image, author. Bases may place ` + "`" + `<!-- article:table_of_contents -->` + "`" + `,
` + "`" + `<!-- article:metadata -->` + "`" + `, ` + "`" + `<!-- article:read_time -->` + "`" + ` and
` + "`" + `<!-- article:artwork_credit -->` + "`" + ` where the derived values should appear.

## Images

Add images with the ` + "`" + `add_image` + "`" + ` tool. They land in the project's image library
(` + "`" + `images.dir` + "`" + ` in kiln.yaml), are named by content and are copied to the output on every
build. Use the returned ` + "`" + `url` + "`" + ` or ` + "`" + `markdown` + "`" + ` in pages; ` + "`" + `list_images` + "`" + ` shows what is stored.
`
