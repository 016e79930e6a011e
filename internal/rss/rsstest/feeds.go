package rsstest

import (
	"fmt"
	"strings"
)

// Item describes one entry of a generated RSS document. Empty fields are omitted.
type Item struct {
	Title   string
	Link    string
	PubDate string
	Content string
}

// RSS renders an RSS 2.0 document.
func RSS(title, link string, items ...Item) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">` + "\n<channel>\n")
	fmt.Fprintf(&b, "<title>%s</title>\n<link>%s</link>\n<description>%s feed</description>\n", title, link, title)
	for _, it := range items {
		b.WriteString("<item>\n")
		if it.Title != "" {
			fmt.Fprintf(&b, "<title>%s</title>\n", it.Title)
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "<link>%s</link>\n", it.Link)
		}
		if it.PubDate != "" {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>\n", it.PubDate)
		}
		if it.Content != "" {
			fmt.Fprintf(&b, "<content:encoded><![CDATA[%s]]></content:encoded>\n", it.Content)
		}
		b.WriteString("</item>\n")
	}
	b.WriteString("</channel>\n</rss>\n")
	return b.String()
}

// SampleRSS has two items; the second has no pubDate and only a description.
const SampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Example Blog</title>
  <link>https://example.com/</link>
  <description>Posts from example</description>
  <item>
    <title>First post</title>
    <link>https://example.com/posts/1</link>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <description>Summary one</description>
    <content:encoded><![CDATA[<p>Full one</p>]]></content:encoded>
  </item>
  <item>
    <title>Second post</title>
    <link>https://example.com/posts/2</link>
    <description>Summary two</description>
  </item>
</channel>
</rss>
`

// SampleAtom has one entry with an author and a summary but no content.
const SampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <subtitle>An atom feed</subtitle>
  <link href="https://atom.example.org/"/>
  <id>urn:uuid:60a76c80-d399-11d9-b93C-0003939e0af6</id>
  <updated>2024-03-01T10:00:00Z</updated>
  <entry>
    <title>Atom entry</title>
    <link href="https://atom.example.org/entries/1"/>
    <id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
    <published>2024-03-01T09:30:00Z</published>
    <updated>2024-03-01T10:00:00Z</updated>
    <author><name>Ada Lovelace</name></author>
    <summary>Entry summary</summary>
  </entry>
</feed>
`
