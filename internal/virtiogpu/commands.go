package virtiogpu

// memEntrySize is sizeof(VirtIOGPUMemEntry): addr(8) + len(4).
const memEntrySize = 12

// GetDisplayInfo issues VIRTIO_GPU_CMD_GET_DISPLAY_INFO and decodes
// the first scanout's rectangle, matching virtio_gpu.go's display
// info response layout (header + an array of pmodes, each
// rect+enabled+flags).
func (d *Device) GetDisplayInfo() (width, height uint32, ok bool) {
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize + 24)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdGetDisplayInfo)

	respType := d.sendCommand(cmdVirt, cmdPhys, ctrlHdrSize, respVirt, respPhys, ctrlHdrSize+24)
	if respType != RespOKDisplayInfo {
		d.logFailure("get display info", respType)
		return 0, 0, false
	}

	rectBase := respVirt + ctrlHdrSize
	width = d.mem.Read32(rectBase + 8)
	height = d.mem.Read32(rectBase + 12)
	return width, height, true
}

// CreateResource2D issues VIRTIO_GPU_CMD_RESOURCE_CREATE_2D.
func (d *Device) CreateResource2D(resourceID, format, width, height uint32) bool {
	const cmdSize = ctrlHdrSize + 16
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(cmdSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdResourceCreate2D)
	d.mem.Write32(cmdVirt+ctrlHdrSize, resourceID)
	d.mem.Write32(cmdVirt+ctrlHdrSize+4, format)
	d.mem.Write32(cmdVirt+ctrlHdrSize+8, width)
	d.mem.Write32(cmdVirt+ctrlHdrSize+12, height)

	respType := d.sendCommand(cmdVirt, cmdPhys, cmdSize, respVirt, respPhys, ctrlHdrSize)
	if respType != RespOKNoData {
		d.logFailure("create resource 2d", respType)
		return false
	}
	return true
}

// AttachBacking issues VIRTIO_GPU_CMD_RESOURCE_ATTACH_BACKING with a
// single backing memory entry, matching virtioGPUSetupFramebuffer's
// static one-entry attach command.
func (d *Device) AttachBacking(resourceID uint32, backingPhys uintptr, backingLen uint32) bool {
	cmdSize := uint32(ctrlHdrSize + 8 + memEntrySize)
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(cmdSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdResourceAttachBack)
	d.mem.Write32(cmdVirt+ctrlHdrSize, resourceID)
	d.mem.Write32(cmdVirt+ctrlHdrSize+4, 1) // nr_entries
	entryBase := cmdVirt + ctrlHdrSize + 8
	d.mem.Write64(entryBase, uint64(backingPhys))
	d.mem.Write32(entryBase+8, backingLen)

	respType := d.sendCommand(cmdVirt, cmdPhys, cmdSize, respVirt, respPhys, ctrlHdrSize)
	if respType != RespOKNoData {
		d.logFailure("attach backing", respType)
		return false
	}
	return true
}

// SetScanout issues VIRTIO_GPU_CMD_SET_SCANOUT, connecting a resource
// to a physical display output.
func (d *Device) SetScanout(scanoutID, resourceID uint32, rect Rect) bool {
	const cmdSize = ctrlHdrSize + 16 + 8
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(cmdSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdSetScanout)
	rectBase := cmdVirt + ctrlHdrSize
	d.mem.Write32(rectBase, rect.X)
	d.mem.Write32(rectBase+4, rect.Y)
	d.mem.Write32(rectBase+8, rect.Width)
	d.mem.Write32(rectBase+12, rect.Height)
	d.mem.Write32(cmdVirt+ctrlHdrSize+16, scanoutID)
	d.mem.Write32(cmdVirt+ctrlHdrSize+20, resourceID)

	respType := d.sendCommand(cmdVirt, cmdPhys, cmdSize, respVirt, respPhys, ctrlHdrSize)
	if respType != RespOKNoData {
		d.logFailure("set scanout", respType)
		return false
	}
	return true
}

// TransferToHost2D issues VIRTIO_GPU_CMD_TRANSFER_TO_HOST_2D, copying
// guest-side framebuffer bytes into the resource's host-side backing.
func (d *Device) TransferToHost2D(resourceID uint32, rect Rect, offset uint64) bool {
	const cmdSize = ctrlHdrSize + 16 + 8 + 8
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(cmdSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdTransferToHost2D)
	rectBase := cmdVirt + ctrlHdrSize
	d.mem.Write32(rectBase, rect.X)
	d.mem.Write32(rectBase+4, rect.Y)
	d.mem.Write32(rectBase+8, rect.Width)
	d.mem.Write32(rectBase+12, rect.Height)
	d.mem.Write64(cmdVirt+ctrlHdrSize+16, offset)
	d.mem.Write32(cmdVirt+ctrlHdrSize+24, resourceID)
	d.mem.Write32(cmdVirt+ctrlHdrSize+28, 0) // padding

	respType := d.sendCommand(cmdVirt, cmdPhys, cmdSize, respVirt, respPhys, ctrlHdrSize)
	if respType != RespOKNoData {
		d.logFailure("transfer to host 2d", respType)
		return false
	}
	return true
}

// ResourceFlush issues VIRTIO_GPU_CMD_RESOURCE_FLUSH, telling the
// host to present the rectangle of the resource previously updated by
// TransferToHost2D.
func (d *Device) ResourceFlush(resourceID uint32, rect Rect) bool {
	const cmdSize = ctrlHdrSize + 16 + 8
	cmdVirt, cmdPhys := d.bufs.AllocBuffer(cmdSize)
	defer d.bufs.FreeBuffer(cmdVirt)
	respVirt, respPhys := d.bufs.AllocBuffer(ctrlHdrSize)
	defer d.bufs.FreeBuffer(respVirt)

	d.writeCtrlHdr(cmdVirt, CmdResourceFlush)
	rectBase := cmdVirt + ctrlHdrSize
	d.mem.Write32(rectBase, rect.X)
	d.mem.Write32(rectBase+4, rect.Y)
	d.mem.Write32(rectBase+8, rect.Width)
	d.mem.Write32(rectBase+12, rect.Height)
	d.mem.Write32(cmdVirt+ctrlHdrSize+16, resourceID)
	d.mem.Write32(cmdVirt+ctrlHdrSize+20, 0) // padding

	respType := d.sendCommand(cmdVirt, cmdPhys, cmdSize, respVirt, respPhys, ctrlHdrSize)
	if respType != RespOKNoData {
		d.logFailure("resource flush", respType)
		return false
	}
	return true
}

// Present is the common case of virtioGPUTransferToHost followed by a
// flush: push the full resource rectangle to the host and ask it to
// display it.
func (d *Device) Present(resourceID, width, height uint32) bool {
	rect := Rect{Width: width, Height: height}
	if !d.TransferToHost2D(resourceID, rect, 0) {
		return false
	}
	return d.ResourceFlush(resourceID, rect)
}
