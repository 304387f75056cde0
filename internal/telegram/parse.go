package telegram

import (
	"github.com/gotd/td/tg"
)

// pickChannel finds the broadcast channel among resolved chats.
func pickChannel(id string, chats []tg.ChatClass) (*tg.Channel, error) {
	if len(chats) == 0 {
		return nil, &AccessError{Channel: id, Reason: ErrChannelNotFound}
	}
	for _, chat := range chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			return ch, nil
		case *tg.ChannelForbidden:
			return nil, &AccessError{Channel: id, Reason: ErrChannelPrivate}
		}
	}
	return nil, &AccessError{Channel: id, Reason: ErrNotAChannel}
}

// channelMeta merges the short and full channel views. full may be nil.
func channelMeta(ch *tg.Channel, full *tg.ChannelFull) *ChannelMeta {
	meta := &ChannelMeta{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
		Date:       EventTime(ch.Date),
		Verified:   ch.Verified,
		Scam:       ch.Scam,
	}
	if n, ok := ch.GetParticipantsCount(); ok {
		meta.Participants = &n
	}
	if full != nil {
		meta.About = full.About
		meta.ReadInboxMax = full.ReadInboxMaxID
		if n, ok := full.GetParticipantsCount(); ok {
			meta.Participants = &n
		}
	}
	return meta
}

// extractMessages converts a history response, keeping provider order.
func extractMessages(history tg.MessagesMessagesClass) []RawMessage {
	var msgs []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		msgs = h.Messages
	case *tg.MessagesMessagesSlice:
		msgs = h.Messages
	case *tg.MessagesMessages:
		msgs = h.Messages
	}

	out := make([]RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		if m, ok := parseMessage(msg); ok {
			out = append(out, m)
		}
	}
	return out
}

// parseMessage converts a single message. Empty messages are dropped.
func parseMessage(msg tg.MessageClass) (RawMessage, bool) {
	switch m := msg.(type) {
	case *tg.Message:
		raw := RawMessage{
			ID:     m.ID,
			Date:   EventTime(m.Date),
			Text:   m.Message,
			Pinned: m.Pinned,
		}
		if v, ok := m.GetViews(); ok {
			raw.Views = &v
		}
		if v, ok := m.GetForwards(); ok {
			raw.Forwards = &v
		}
		if r, ok := m.GetReplies(); ok {
			n := r.Replies
			raw.Replies = &n
		}
		if d, ok := m.GetEditDate(); ok {
			raw.EditDate = EventTime(d)
		}
		if id, ok := m.GetViaBotID(); ok {
			raw.ViaBotID = &id
		}
		if media, ok := m.GetMedia(); ok {
			raw.Media = parseMedia(media)
		}
		return raw, true
	case *tg.MessageService:
		return RawMessage{ID: m.ID, Date: EventTime(m.Date), Service: true}, true
	}
	return RawMessage{}, false
}

// parseMedia describes an attachment. Unknown kinds keep only the type name.
func parseMedia(media tg.MessageMediaClass) *MediaRef {
	switch md := media.(type) {
	case *tg.MessageMediaPhoto:
		ref := &MediaRef{Kind: MediaPhoto, TypeName: md.TypeName(), MimeType: "image/jpeg"}
		photoClass, ok := md.GetPhoto()
		if !ok {
			return ref
		}
		photo, ok := photoClass.(*tg.Photo)
		if !ok {
			return ref
		}
		thumb, size := largestPhotoSize(photo.Sizes)
		if thumb == "" {
			return ref
		}
		ref.Size = int64(size)
		ref.Location = &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}
		return ref
	case *tg.MessageMediaDocument:
		ref := &MediaRef{Kind: MediaDocument, TypeName: md.TypeName()}
		docClass, ok := md.GetDocument()
		if !ok {
			return ref
		}
		doc, ok := docClass.(*tg.Document)
		if !ok {
			return ref
		}
		ref.MimeType = doc.MimeType
		ref.Size = doc.Size
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				ref.FileName = fn.FileName
			}
		}
		ref.Location = &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return ref
	}
	return &MediaRef{Kind: MediaOther, TypeName: media.TypeName()}
}

// largestPhotoSize returns the thumb type with the most pixels.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int) {
	var (
		best     string
		bestArea int
		bestSize int
	)
	for _, s := range sizes {
		var typ string
		var w, h, size int
		switch ps := s.(type) {
		case *tg.PhotoSize:
			typ, w, h, size = ps.Type, ps.W, ps.H, ps.Size
		case *tg.PhotoSizeProgressive:
			typ, w, h = ps.Type, ps.W, ps.H
			if n := len(ps.Sizes); n > 0 {
				size = ps.Sizes[n-1]
			}
		default:
			continue
		}
		if area := w * h; area > bestArea {
			best, bestArea, bestSize = typ, area, size
		}
	}
	return best, bestSize
}
