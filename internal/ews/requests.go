package ews

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
)

// distinguishedFolders 可直接用 DistinguishedFolderId 的文件夹名（小写）
var distinguishedFolders = map[string]bool{
	"inbox":         true,
	"drafts":        true,
	"sentitems":     true,
	"deleteditems":  true,
	"junkemail":     true,
	"outbox":        true,
	"msgfolderroot": true,
	"root":          true,
}

// folderRef 指向一个文件夹：distinguished 名或已解析的 FolderId
type folderRef struct {
	Distinguished string
	ID            string
	ChangeKey     string
}

func distinguishedFolder(name string) (folderRef, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if distinguishedFolders[lower] {
		return folderRef{Distinguished: lower}, true
	}
	return folderRef{}, false
}

// newEnvelope 创建 SOAP 信封，返回文档和 Body 元素
func newEnvelope(version string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", nsSoap)
	env.CreateAttr("xmlns:t", nsTypes)
	env.CreateAttr("xmlns:m", nsMessages)

	header := env.CreateElement("soap:Header")
	header.CreateElement("t:RequestServerVersion").CreateAttr("Version", version)

	return doc, env.CreateElement("soap:Body")
}

func addFieldURIs(parent *etree.Element, uris ...string) {
	props := parent.CreateElement("t:AdditionalProperties")
	for _, uri := range uris {
		props.CreateElement("t:FieldURI").CreateAttr("FieldURI", uri)
	}
}

func addFolderRef(parent *etree.Element, ref folderRef) {
	if ref.Distinguished != "" {
		parent.CreateElement("t:DistinguishedFolderId").CreateAttr("Id", ref.Distinguished)
		return
	}
	id := parent.CreateElement("t:FolderId")
	id.CreateAttr("Id", ref.ID)
	if ref.ChangeKey != "" {
		id.CreateAttr("ChangeKey", ref.ChangeKey)
	}
}

func addItemID(parent *etree.Element, id, changeKey string) {
	el := parent.CreateElement("t:ItemId")
	el.CreateAttr("Id", id)
	if changeKey != "" {
		el.CreateAttr("ChangeKey", changeKey)
	}
}

// findUnreadRequest FindItem：文件夹内未读邮件，按接收时间升序，最多 pageSize 条
func findUnreadRequest(version string, folder folderRef, pageSize int) *etree.Document {
	doc, body := newEnvelope(version)

	find := body.CreateElement("m:FindItem")
	find.CreateAttr("Traversal", "Shallow")

	shape := find.CreateElement("m:ItemShape")
	shape.CreateElement("t:BaseShape").SetText("IdOnly")
	addFieldURIs(shape,
		"item:Subject",
		"item:DateTimeReceived",
		"message:From",
		"message:IsRead",
	)

	view := find.CreateElement("m:IndexedPageItemView")
	view.CreateAttr("MaxEntriesReturned", strconv.Itoa(pageSize))
	view.CreateAttr("Offset", "0")
	view.CreateAttr("BasePoint", "Beginning")

	eq := find.CreateElement("m:Restriction").CreateElement("t:IsEqualTo")
	eq.CreateElement("t:FieldURI").CreateAttr("FieldURI", "message:IsRead")
	eq.CreateElement("t:FieldURIOrConstant").CreateElement("t:Constant").CreateAttr("Value", "false")

	order := find.CreateElement("m:SortOrder").CreateElement("t:FieldOrder")
	order.CreateAttr("Order", "Ascending")
	order.CreateElement("t:FieldURI").CreateAttr("FieldURI", "item:DateTimeReceived")

	addFolderRef(find.CreateElement("m:ParentFolderIds"), folder)
	return doc
}

// findFolderRequest FindFolder：在 msgfolderroot 下按显示名查找
func findFolderRequest(version, displayName string) *etree.Document {
	doc, body := newEnvelope(version)

	find := body.CreateElement("m:FindFolder")
	find.CreateAttr("Traversal", "Deep")

	shape := find.CreateElement("m:FolderShape")
	shape.CreateElement("t:BaseShape").SetText("IdOnly")
	addFieldURIs(shape, "folder:DisplayName")

	eq := find.CreateElement("m:Restriction").CreateElement("t:IsEqualTo")
	eq.CreateElement("t:FieldURI").CreateAttr("FieldURI", "folder:DisplayName")
	eq.CreateElement("t:FieldURIOrConstant").CreateElement("t:Constant").CreateAttr("Value", displayName)

	addFolderRef(find.CreateElement("m:ParentFolderIds"), folderRef{Distinguished: "msgfolderroot"})
	return doc
}

// getItemRequest GetItem：纯文本正文和收件人
func getItemRequest(version, id, changeKey string) *etree.Document {
	doc, body := newEnvelope(version)

	get := body.CreateElement("m:GetItem")
	shape := get.CreateElement("m:ItemShape")
	shape.CreateElement("t:BaseShape").SetText("Default")
	shape.CreateElement("t:BodyType").SetText("Text")
	addFieldURIs(shape,
		"item:Subject",
		"item:DateTimeReceived",
		"item:DisplayTo",
		"message:From",
		"message:ToRecipients",
		"message:IsRead",
	)

	addItemID(get.CreateElement("m:ItemIds"), id, changeKey)
	return doc
}

// markReadRequest UpdateItem：IsRead=true，AutoResolve 冲突
func markReadRequest(version, id, changeKey string) *etree.Document {
	doc, body := newEnvelope(version)

	update := body.CreateElement("m:UpdateItem")
	update.CreateAttr("MessageDisposition", "SaveOnly")
	update.CreateAttr("ConflictResolution", "AutoResolve")

	change := update.CreateElement("m:ItemChanges").CreateElement("t:ItemChange")
	addItemID(change, id, changeKey)

	set := change.CreateElement("t:Updates").CreateElement("t:SetItemField")
	set.CreateElement("t:FieldURI").CreateAttr("FieldURI", "message:IsRead")
	set.CreateElement("t:Message").CreateElement("t:IsRead").SetText("true")
	return doc
}
