package ews

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"mailwatcher/internal/model"
)

// soapBody 解析响应 XML，返回 Envelope/Body
func soapBody(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("%w: missing SOAP envelope", ErrMalformedResponse)
	}
	body := child(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("%w: missing SOAP body", ErrMalformedResponse)
	}
	return body, nil
}

// soapFault 提取 SOAP fault 的 code 和说明；没有 fault 返回 ok=false
func soapFault(body *etree.Element) (code, msg string, ok bool) {
	fault := child(body, "Fault")
	if fault == nil {
		return "", "", false
	}
	code = strings.TrimSpace(textOf(descendant(fault, "ResponseCode")))
	if code == "" {
		code = text(fault, "faultcode")
	}
	return code, text(fault, "faultstring"), true
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

// responseMessage 取出 <op>Response/ResponseMessages/<op>ResponseMessage，
// ResponseClass=Error 时转换为 ProtocolError
func responseMessage(op string, body *etree.Element) (*etree.Element, error) {
	msgs := children(child(body, op+"Response", "ResponseMessages"), op+"ResponseMessage")
	if len(msgs) == 0 {
		return nil, &ProtocolError{Op: op, Err: fmt.Errorf("%w: no %sResponseMessage", ErrMalformedResponse, op)}
	}

	msg := msgs[0]
	class := attr(msg, "ResponseClass")
	code := text(msg, "ResponseCode")
	if class == "Error" || (code != "" && code != "NoError") {
		perr := &ProtocolError{
			Op:   op,
			Code: code,
			Msg:  text(msg, "MessageText"),
			Err:  responseCodeErr(code),
		}
		if perr.Err == nil {
			perr.Err = fmt.Errorf("response class %q", class)
		}
		return nil, perr
	}
	return msg, nil
}

// itemElements 返回 Items 下所有带 ItemId 的条目（Message、MeetingRequest 等）
func itemElements(items *etree.Element) []*etree.Element {
	if items == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range items.ChildElements() {
		if child(c, "ItemId") != nil {
			out = append(out, c)
		}
	}
	return out
}

func parseCandidates(msg *etree.Element) ([]model.MessageCandidate, error) {
	root := child(msg, "RootFolder")
	if root == nil {
		return nil, &ProtocolError{Op: "FindItem", Err: fmt.Errorf("%w: missing RootFolder", ErrMalformedResponse)}
	}

	elems := itemElements(child(root, "Items"))
	out := make([]model.MessageCandidate, 0, len(elems))
	for _, el := range elems {
		id := child(el, "ItemId")
		out = append(out, model.MessageCandidate{
			ID:         attr(id, "Id"),
			ChangeKey:  attr(id, "ChangeKey"),
			Subject:    text(el, "Subject"),
			Sender:     mailboxAddress(child(el, "From", "Mailbox")),
			ReceivedAt: parseTime(text(el, "DateTimeReceived")),
			IsRead:     parseBool(text(el, "IsRead")),
		})
	}
	return out, nil
}

func parseDetail(msg *etree.Element) (model.MessageDetail, error) {
	elems := itemElements(child(msg, "Items"))
	if len(elems) == 0 {
		return model.MessageDetail{}, &ProtocolError{Op: "GetItem", Err: fmt.Errorf("%w: missing Items/Message", ErrMalformedResponse)}
	}
	el := elems[0]
	id := child(el, "ItemId")

	var recipients []string
	for _, mb := range children(child(el, "ToRecipients"), "Mailbox") {
		if addr := mailboxAddress(mb); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		for _, name := range strings.Split(text(el, "DisplayTo"), ";") {
			if name = strings.TrimSpace(name); name != "" {
				recipients = append(recipients, name)
			}
		}
	}

	var body string
	if b := child(el, "Body"); b != nil {
		body = b.Text()
	}

	return model.MessageDetail{
		ID:         attr(id, "Id"),
		ChangeKey:  attr(id, "ChangeKey"),
		Subject:    text(el, "Subject"),
		Sender:     mailboxAddress(child(el, "From", "Mailbox")),
		Recipients: recipients,
		ReceivedAt: parseTime(text(el, "DateTimeReceived")),
		Body:       body,
	}, nil
}

func parseFolder(msg *etree.Element, name string) (folderRef, error) {
	folders := child(msg, "RootFolder", "Folders")
	if folders != nil {
		for _, f := range folders.ChildElements() {
			id := child(f, "FolderId")
			if id == nil {
				continue
			}
			if dn := text(f, "DisplayName"); dn != "" && dn != name {
				continue
			}
			return folderRef{ID: attr(id, "Id"), ChangeKey: attr(id, "ChangeKey")}, nil
		}
	}
	return folderRef{}, &ProtocolError{Op: "FindFolder", Code: "ErrorFolderNotFound", Msg: name, Err: ErrFolderNotFound}
}

// mailboxAddress 优先 EmailAddress，其次 Name
func mailboxAddress(mb *etree.Element) string {
	if addr := text(mb, "EmailAddress"); addr != "" {
		return addr
	}
	return text(mb, "Name")
}

// parseTime EWS 时间为 xs:dateTime（RFC3339），无法解析时返回零值
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
