package mcpserver

// ArtifactFormatContract describes the canonical artifact content format
// that LLM consumers should follow when reading or editing artifacts.
const ArtifactFormatContract = `# Raido Artifact Format Contract

Every artifact in a Raido collection MUST follow this structure.

## Layout

` + "```" + `
<collection-root>/
  collection.yaml             manifest (authoritative metadata)
  skills/<name>/SKILL.md      primary content file, carries front matter
  skills/<name>/...           supporting files (scripts, data, docs)
  commands/<name>/COMMAND.md
  agents/<name>/AGENT.md
  tools/<name>/TOOL.md
  hooks/<name>/HOOK.md
` + "```" + `

An artifact is addressed by its key ` + "`" + `<type>:<name>` + "`" + ` (e.g. ` + "`" + `skill:pdf-parser` + "`" + `).
Names are lowercase, may contain digits, ` + "`" + `.` + "`" + `, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + `, and must start with a
letter or digit.

## Primary file front matter

` + "```" + `markdown
---
version: 2.0.0                # OPTIONAL - semantic version of the content
tags:                         # OPTIONAL - YAML list; merged into the cache
  - document
  - pdf
description: One-line summary # OPTIONAL - wins over the manifest description
author: starford              # OPTIONAL
license: MIT                  # OPTIONAL
---

Body in standard Markdown. The body documents what the artifact does and
how to use its supporting files.
` + "```" + `

## Rules

1. **Front matter is optional but recommended.** When present, the ` + "```" + `---` + "```" + `
   fences must be the first thing in the file.
2. **Front matter wins.** For ` + "`" + `tags` + "`" + `, ` + "`" + `description` + "`" + `, ` + "`" + `author` + "`" + `, and
   ` + "`" + `license` + "`" + `, a value in the primary file overrides the manifest value in
   the metadata cache. Omit a field to inherit the manifest's.
3. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `document` + "`" + `, ` + "`" + `code-review` + "`" + `).
4. **Never edit** ` + "`" + `resolved_version` + "`" + `, ` + "`" + `resolved_hash` + "`" + `, or ` + "`" + `resolved_files` + "`" + `
   in ` + "`" + `collection.yaml` + "`" + `; they are baselines written by pull and import.
5. **Encoding** is UTF-8 with a trailing newline.
6. Editing a collection copy of a pulled artifact makes its source scope
   ` + "`" + `modified` + "`" + `; the next pull overwrites the edit. Check ` + "`" + `artifact_status` + "`" + `
   before editing.

## Example

` + "```" + `markdown
---
version: 1.2.0
tags:
  - document
  - pdf
description: Extracts text and tables from PDF files
---

# PDF Parser

Run ` + "`" + `parse.py <file>` + "`" + ` to extract text. Tables come out as CSV on stdout.
` + "```" + `
`
