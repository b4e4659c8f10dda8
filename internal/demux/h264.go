package demux

// h264Keyframe reports whether an H264 RTP payload begins an IDR frame.
// Handles single NAL units, STAP-A aggregates, and FU-A fragments.
func h264Keyframe(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	switch nalType := payload[0] & 0x1F; nalType {
	case 5, 7, 8: // IDR, SPS, PPS
		return true
	case 24: // STAP-A
		return stapAContainsIDR(payload)
	case 28: // FU-A
		if len(payload) < 2 {
			return false
		}
		fuHeader := payload[1]
		return fuHeader&0x80 != 0 && fuHeader&0x1F == 5
	}
	return false
}

func stapAContainsIDR(payload []byte) bool {
	offset := 1
	for offset+2 <= len(payload) {
		nalSize := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if offset+nalSize > len(payload) || nalSize == 0 {
			break
		}
		switch payload[offset] & 0x1F {
		case 5, 7, 8:
			return true
		}
		offset += nalSize
	}
	return false
}
