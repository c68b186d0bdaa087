package sentencepiece

// Serialized-proto siblings of the encode/decode variants. They return the
// wire bytes of the structured envelope and swallow errors: any failure
// yields an empty byte slice.

// EncodeAsSerializedProto is EncodeText returning serialized bytes.
func (p *Processor) EncodeAsSerializedProto(input string) []byte {
	spt, err := p.EncodeText(input)
	if err != nil {
		return nil
	}
	return spt.Marshal()
}

// SampleEncodeAsSerializedProto is SampleEncodeText returning serialized
// bytes.
func (p *Processor) SampleEncodeAsSerializedProto(input string, nbest int, alpha float32) []byte {
	spt, err := p.SampleEncodeText(input, nbest, alpha)
	if err != nil {
		return nil
	}
	return spt.Marshal()
}

// NBestEncodeAsSerializedProto is NBestEncodeText returning serialized
// bytes.
func (p *Processor) NBestEncodeAsSerializedProto(input string, nbest int) []byte {
	nspt, err := p.NBestEncodeText(input, nbest)
	if err != nil {
		return nil
	}
	return nspt.Marshal()
}

// DecodePiecesAsSerializedProto is DecodeText returning serialized bytes.
func (p *Processor) DecodePiecesAsSerializedProto(pieces []string) []byte {
	spt, err := p.DecodeText(pieces)
	if err != nil {
		return nil
	}
	return spt.Marshal()
}

// DecodeIDsAsSerializedProto is DecodeIDsText returning serialized bytes.
func (p *Processor) DecodeIDsAsSerializedProto(ids []int) []byte {
	spt, err := p.DecodeIDsText(ids)
	if err != nil {
		return nil
	}
	return spt.Marshal()
}
