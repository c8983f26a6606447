package ews

import (
	"strings"

	"github.com/beevik/etree"
)

// etree 已把 "m:Items" 拆成 Space="m"、Tag="Items"；这里只按本地名匹配，忽略命名空间前缀

// children 返回 el 下所有本地名为 name 的直接子元素。一个和多个子元素都返回切片
func children(el *etree.Element, name string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == name {
			out = append(out, c)
		}
	}
	return out
}

// child 按路径逐级查找第一个匹配的子元素
func child(el *etree.Element, path ...string) *etree.Element {
	cur := el
	for _, name := range path {
		if cur == nil {
			return nil
		}
		var next *etree.Element
		for _, c := range cur.ChildElements() {
			if c.Tag == name {
				next = c
				break
			}
		}
		cur = next
	}
	return cur
}

// text 返回路径指向元素的去空白文本，找不到返回空串
func text(el *etree.Element, path ...string) string {
	c := child(el, path...)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

// descendant 深度优先查找第一个本地名为 name 的后代
func descendant(el *etree.Element, name string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == name {
			return c
		}
		if d := descendant(c, name); d != nil {
			return d
		}
	}
	return nil
}

// attr 读取无前缀属性
func attr(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	for _, a := range el.Attr {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
